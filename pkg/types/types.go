package types

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Center returns the normalized box center.
func (b Box) Center() (float64, float64) {
	return b.X + b.W/2, b.Y + b.H/2
}

// EllipseFit is an ellipse reported by a model, normalized to the image it
// was asked about.
type EllipseFit struct {
	Cx    float64 `json:"cx"`
	Cy    float64 `json:"cy"`
	W     float64 `json:"w"`
	H     float64 `json:"h"`
	Angle float64 `json:"angle"`
}

// Candidate is one tag location proposed by a vision model
type Candidate struct {
	Box        Box         `json:"box"`
	Confidence float64     `json:"confidence"`
	Ellipse    *EllipseFit `json:"ellipse,omitempty"`
}

// DetectionResult contains the parsed model answer
type DetectionResult struct {
	Candidates  []Candidate `json:"candidates"`
	Description string      `json:"description"`
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// ParseDetectionResult parses the JSON answer of a vision model. Answers
// that are not JSON yield an empty result with an explanatory description
// instead of an error, so a confused model never invents tags.
func ParseDetectionResult(raw string) *DetectionResult {
	raw = SanitizeModelJSON(raw)

	if !strings.HasPrefix(raw, "{") {
		return &DetectionResult{Description: "non-json response"}
	}

	var result DetectionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return &DetectionResult{Description: "parse error: " + err.Error()}
	}
	return &result
}

// SanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
