package client

import (
	"context"

	"github.com/menta2k/tag-trainset/pkg/types"
)

// VisionClient is a chat backend that can look at an image.
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	DetectTags(ctx context.Context, model, prompt, imgB64 string) (*types.DetectionResult, error)
}
