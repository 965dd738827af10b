package domain

import "context"

// Generator transforms input images plus a text instruction into exactly
// one output image.
type Generator interface {
	Generate(ctx context.Context, images []ImageInput, prompt string) (*GeneratedImage, error)
}
