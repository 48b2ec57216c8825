package core

import (
	"fmt"
	"strings"
)

// ContextItem is one attributed passage in an assembled context.
type ContextItem struct {
	Text     string
	Citation Citation
	Score    float64
}

// FusedContext is the bounded, attributed context handed to answer generation.
// Size is the total length of all item texts in runes.
type FusedContext struct {
	Items     []ContextItem
	Size      int
	Truncated bool
}

// Empty reports whether the context has no items.
func (fc *FusedContext) Empty() bool {
	return fc == nil || len(fc.Items) == 0
}

// Render formats the context as numbered, attributed blocks.
func (fc *FusedContext) Render() string {
	if fc.Empty() {
		return ""
	}
	var sb strings.Builder
	for i, item := range fc.Items {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		c := item.Citation
		switch c.Kind {
		case CandidateWeb:
			title := c.Title
			if title == "" {
				title = "No title"
			}
			fmt.Fprintf(&sb, "[%d] %s\n    Source: %s\n", i+1, title, c.SourceURL)
		default:
			name := c.SourceName
			if name == "" {
				name = c.DocumentID
			}
			fmt.Fprintf(&sb, "[%d] %s (chars %d-%d)\n", i+1, name, c.Start, c.End)
		}
		sb.WriteString(item.Text)
	}
	return sb.String()
}

// Sources returns up to perKind citations of each kind, knowledge base first.
func (fc *FusedContext) Sources(perKind int) []Citation {
	if fc.Empty() || perKind <= 0 {
		return nil
	}
	var kb, web []Citation
	for _, item := range fc.Items {
		switch item.Citation.Kind {
		case CandidateVector:
			if len(kb) < perKind {
				kb = append(kb, item.Citation)
			}
		case CandidateWeb:
			if len(web) < perKind {
				web = append(web, item.Citation)
			}
		}
	}
	return append(kb, web...)
}

// String renders a citation on one line.
func (c Citation) String() string {
	if c.Kind == CandidateWeb {
		return c.SourceURL
	}
	name := c.SourceName
	if name == "" {
		name = c.DocumentID
	}
	return fmt.Sprintf("%s [%d:%d]", name, c.Start, c.End)
}
