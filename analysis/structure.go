package analysis

import (
	"context"
	"fmt"

	"github.com/ShriniwasAhirrao/MetaStitch/parser"
)

// Section is one node of a document outline.
type Section struct {
	Title    string     `json:"title"`
	Level    int        `json:"level"`
	Position int        `json:"position"`
	Elements int        `json:"elements"` // non-heading elements directly under the heading
	Children []*Section `json:"children,omitempty"`
}

// Structure builds a heading outline from the element sequence.
type Structure struct{}

func (Structure) Name() string { return "structure" }

func (Structure) Analyze(ctx context.Context, res *parser.ParseResult) (map[string]any, error) {
	if len(res.StructuredElements) == 0 {
		return nil, nil
	}

	var (
		roots    []*Section
		stack    []*Section
		preamble int
		counts   = make(map[parser.ElementType]int)
	)
	for i, e := range res.StructuredElements {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		counts[e.Type]++

		if e.Type != parser.ElementHeading {
			if len(stack) == 0 {
				preamble++
			} else {
				stack[len(stack)-1].Elements++
			}
			continue
		}

		s := &Section{Title: fmt.Sprint(e.Content), Level: headingLevel(e), Position: e.Position}
		for len(stack) > 0 && stack[len(stack)-1].Level >= s.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			roots = append(roots, s)
		} else {
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, s)
		}
		stack = append(stack, s)
	}

	return map[string]any{
		"outline":           roots,
		"max_depth":         outlineDepth(roots),
		"element_counts":    counts,
		"total_elements":    len(res.StructuredElements),
		"preamble_elements": preamble,
	}, nil
}

// headingLevel reads the level metadata, defaulting to 1.
func headingLevel(e parser.StructuredElement) int {
	if lvl, ok := e.Metadata["level"].(int); ok && lvl > 0 {
		return lvl
	}
	return 1
}

func outlineDepth(sections []*Section) int {
	depth := 0
	for _, s := range sections {
		depth = max(depth, 1+outlineDepth(s.Children))
	}
	return depth
}
