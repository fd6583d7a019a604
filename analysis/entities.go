package analysis

import (
	"context"
	"fmt"

	"github.com/ShriniwasAhirrao/MetaStitch/parser"
)

// Entity is a span of text recognised as a named thing.
type Entity struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// EntityExtractor finds entities in plain text.
type EntityExtractor interface {
	Extract(ctx context.Context, text string) ([]Entity, error)
}

// NoopExtractor never finds anything.
type NoopExtractor struct{}

func (NoopExtractor) Extract(context.Context, string) ([]Entity, error) { return nil, nil }

// EntityAnalyzer runs an EntityExtractor over a result's raw text.
type EntityAnalyzer struct {
	Extractor EntityExtractor
}

// NewEntityAnalyzer wraps x, falling back to NoopExtractor when x is nil.
func NewEntityAnalyzer(x EntityExtractor) *EntityAnalyzer {
	if x == nil {
		x = NoopExtractor{}
	}
	return &EntityAnalyzer{Extractor: x}
}

func (a *EntityAnalyzer) Name() string { return "entities" }

func (a *EntityAnalyzer) Analyze(ctx context.Context, res *parser.ParseResult) (map[string]any, error) {
	if res.RawText == "" {
		return nil, nil
	}
	ents, err := a.Extractor.Extract(ctx, res.RawText)
	if err != nil {
		return nil, fmt.Errorf("extracting entities: %w", err)
	}
	if len(ents) == 0 {
		return nil, nil
	}

	byType := make(map[string]int)
	for _, e := range ents {
		byType[e.Type]++
	}
	return map[string]any{
		"entities": ents,
		"count":    len(ents),
		"by_type":  byType,
	}, nil
}
