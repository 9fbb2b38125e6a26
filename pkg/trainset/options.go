package trainset

import (
	"errors"
	"fmt"

	"github.com/menta2k/tag-trainset/pkg/processing"
)

// Mode selects the sampling policy.
type Mode int

const (
	// ModeDensity draws random points and accepts them by their distance to
	// the nearest true tag.
	ModeDensity Mode = iota
	// ModeDiscrete jitters every true tag a fixed number of times and mines
	// negatives around and away from the tags.
	ModeDiscrete
)

func (m Mode) String() string {
	switch m {
	case ModeDensity:
		return "density"
	case ModeDiscrete:
		return "discrete"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "density" or "discrete".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "density":
		return ModeDensity, nil
	case "discrete":
		return ModeDiscrete, nil
	}
	return 0, fmt.Errorf("unknown sampling mode %q", s)
}

// Options configures a Generator.
type Options struct {
	Mode Mode

	// Density mode
	SampleRate     int
	AcceptanceRate float64
	Bandwidth      float64

	// Discrete mode
	SamplesPerTag        int
	RatioTrueToFalse     float64
	RatioAroundToUniform float64
	MaxIntersection      float64

	Scale       float64
	UseRotation bool

	// MaxAttempts bounds the random draws spent on a single accepted sample.
	MaxAttempts int

	// Seed makes a generator deterministic. Zero seeds from the runtime.
	Seed uint64

	// Filter runs on every decoded image before sampling.
	Filter processing.Filter
}

// DefaultOptions returns the defaults used by the dataset command.
func DefaultOptions() Options {
	return Options{
		Mode:                 ModeDensity,
		SampleRate:           32,
		AcceptanceRate:       0.05,
		Bandwidth:            28,
		SamplesPerTag:        32,
		RatioTrueToFalse:     1,
		RatioAroundToUniform: 0.2,
		MaxIntersection:      0.5,
		Scale:                1,
		UseRotation:          true,
		MaxAttempts:          100000,
	}
}

var errInvalidOptions = errors.New("invalid sampling options")

// Validate checks ranges before any image is touched.
func (o Options) Validate() error {
	switch {
	case o.Mode != ModeDensity && o.Mode != ModeDiscrete:
		return fmt.Errorf("%w: unknown mode %v", errInvalidOptions, o.Mode)
	case o.AcceptanceRate < 0 || o.AcceptanceRate > 1:
		return fmt.Errorf("%w: acceptance rate must be in [0,1], got %g", errInvalidOptions, o.AcceptanceRate)
	case o.SampleRate <= 0:
		return fmt.Errorf("%w: sample rate must be positive, got %d", errInvalidOptions, o.SampleRate)
	case o.Bandwidth <= 0:
		return fmt.Errorf("%w: bandwidth must be positive, got %g", errInvalidOptions, o.Bandwidth)
	case o.SamplesPerTag <= 0:
		return fmt.Errorf("%w: samples per tag must be positive, got %d", errInvalidOptions, o.SamplesPerTag)
	case o.RatioTrueToFalse <= 0:
		return fmt.Errorf("%w: true:false ratio must be positive, got %g", errInvalidOptions, o.RatioTrueToFalse)
	case o.RatioAroundToUniform < 0:
		return fmt.Errorf("%w: around:uniform ratio must not be negative, got %g", errInvalidOptions, o.RatioAroundToUniform)
	case o.MaxIntersection < 0 || o.MaxIntersection > 1:
		return fmt.Errorf("%w: max intersection must be in [0,1], got %g", errInvalidOptions, o.MaxIntersection)
	case o.Scale <= 0:
		return fmt.Errorf("%w: scale must be positive, got %g", errInvalidOptions, o.Scale)
	case o.MaxAttempts <= 0:
		return fmt.Errorf("%w: max attempts must be positive, got %d", errInvalidOptions, o.MaxAttempts)
	}
	return nil
}
