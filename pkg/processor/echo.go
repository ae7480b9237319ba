package processor

import (
	"context"
	"slices"
)

// Echo returns every text unchanged.
type Echo struct{}

// Process returns a copy of texts.
func (Echo) Process(ctx context.Context, texts []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return slices.Clone(texts), nil
}
