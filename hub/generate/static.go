package generate

import (
	"context"
	"fmt"
)

// StaticGenerator returns canned content. Used in development and tests.
type StaticGenerator struct{}

// NewStatic creates a StaticGenerator.
func NewStatic() *StaticGenerator {
	return &StaticGenerator{}
}

func (g *StaticGenerator) Generate(_ context.Context, req Request) (*Result, error) {
	content := fmt.Sprintf("Three %s posts for %s.", req.Style, req.URL)
	if req.Occasion != "" {
		content += " Occasion: " + req.Occasion + "."
	}
	return &Result{Content: content, Cached: req.UseCached}, nil
}
