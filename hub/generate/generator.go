// Package generate defines the content generation boundary. The hub treats
// generation as an opaque remote call: a url, style, and occasion go in,
// generated text comes out. Nothing here knows how the text is produced.
package generate

import (
	"context"
	"fmt"

	"github.com/postforge-ai/postforge/hub/config"
	"github.com/postforge-ai/postforge/pkg/api"
)

// Request describes one generation call.
type Request struct {
	URL       string
	Style     api.StyleID
	Occasion  string
	UseCached bool
}

// Result is the generated content plus delivery metadata.
type Result struct {
	Content           string
	Cached            bool
	Truncated         bool
	TruncationMessage string
}

// Generator produces post content for a site in one style.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// New creates a Generator based on the configured backend.
func New(cfg config.GenerateConfig) (Generator, error) {
	switch cfg.Provider {
	case "remote":
		return NewRemote(cfg), nil
	case "static", "":
		return NewStatic(), nil
	default:
		return nil, fmt.Errorf("unsupported generate provider: %q", cfg.Provider)
	}
}
