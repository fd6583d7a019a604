// Package analysis holds the collaborators that run over a finished
// ParseResult. Their outputs land under metadata.analysis.
package analysis

import (
	"context"

	"github.com/ShriniwasAhirrao/MetaStitch/parser"
)

// Analyzer enriches a parse result. A nil map means "nothing to report".
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, res *parser.ParseResult) (map[string]any, error)
}

// Noop is the default analyzer. It reports nothing.
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Analyze(context.Context, *parser.ParseResult) (map[string]any, error) {
	return nil, nil
}
