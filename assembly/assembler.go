// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package assembly turns ranked candidates into a bounded, attributed context.
package assembly

import (
	"fmt"
	"log/slog"
	"slices"
	"unicode/utf8"

	"github.com/poiesic/groundrag/core"
)

// DefaultBudget is the default context size in characters.
const DefaultBudget = 4000

// Assembler deduplicates, orders and truncates candidates.
// It holds no per-call state and is safe for concurrent use.
type Assembler struct {
	logger *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) error {
		if logger == nil {
			logger = slog.Default()
		}
		a.logger = logger
		return nil
	}
}

// NewAssembler creates an Assembler.
func NewAssembler(opts ...Option) (*Assembler, error) {
	a := &Assembler{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	a.logger = a.logger.With("component", "assembler")
	return a, nil
}

// Assemble builds a context of at most budget characters from candidates.
//
// Duplicates collapse to their best-scored instance. Items are ordered by
// descending score, ties keeping input order. Items are appended until the
// next one would exceed the budget. The first item is always included and
// cut to budget characters if it alone is larger, so a non-empty input
// yields a non-empty context.
func (a *Assembler) Assemble(candidates []core.Candidate, budget int) (*core.FusedContext, error) {
	if budget <= 0 {
		return nil, fmt.Errorf("%w: context budget must be positive, got %d", core.ErrConfig, budget)
	}

	ctx := &core.FusedContext{}
	if len(candidates) == 0 {
		return ctx, nil
	}

	ranked := slices.Clone(candidates)
	slices.SortStableFunc(ranked, func(x, y core.Candidate) int {
		switch {
		case x.Score > y.Score:
			return -1
		case x.Score < y.Score:
			return 1
		}
		return 0
	})
	unique := dedup(ranked)

	for i, c := range unique {
		n := utf8.RuneCountInString(c.Text)
		if i == 0 && n > budget {
			c.Text = truncateRunes(c.Text, budget)
			n = budget
			ctx.Truncated = true
		}
		if ctx.Size+n > budget {
			ctx.Truncated = true
			break
		}
		ctx.Items = append(ctx.Items, core.ContextItem{
			Text:     c.Text,
			Citation: c.Citation,
			Score:    c.Score,
		})
		ctx.Size += n
	}

	a.logger.Debug("context assembled",
		"candidates", len(candidates),
		"unique", len(unique),
		"items", len(ctx.Items),
		"size", ctx.Size,
		"truncated", ctx.Truncated,
	)
	return ctx, nil
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
