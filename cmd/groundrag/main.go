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

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/groundrag"
	"github.com/poiesic/groundrag/ai"
	"github.com/poiesic/groundrag/config"
	"github.com/poiesic/groundrag/core"
	"github.com/poiesic/groundrag/loader"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "groundrag",
		Usage: "Grounded retrieval over a local knowledge base with web fallback",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				Value:   "groundrag.yaml",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Knowledge base directory (overrides the config file)",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Index files or directories of .txt, .md and .pdf documents",
				ArgsUsage: "<path>...",
				Action:    addCommand,
			},
			{
				Name:      "remove",
				Usage:     "Remove documents and their chunks",
				ArgsUsage: "<document-id|path>...",
				Action:    removeCommand,
			},
			{
				Name:   "list",
				Usage:  "List indexed documents",
				Action: listCommand,
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the index from the stored documents",
				Action: reindexCommand,
			},
			{
				Name:      "query",
				Usage:     "Retrieve and print the context for a question",
				ArgsUsage: "<question>",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-web",
						Usage: "Never fall back to web search",
					},
				},
			},
			{
				Name:      "watch",
				Usage:     "Index a directory and keep it in sync until interrupted",
				ArgsUsage: "<dir>",
				Action:    watchCommand,
			},
			{
				Name:   "stats",
				Usage:  "Show knowledge base statistics",
				Action: statsCommand,
			},
		},
	}
}

func setup(c *cli.Context) error {
	// A missing .env is fine; keys may come from the environment.
	_ = godotenv.Load()
	return setupLogger(c)
}

// openKnowledgeBase loads the config and opens the knowledge base.
func openKnowledgeBase(c *cli.Context) (*groundrag.KnowledgeBase, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}

	kb, err := groundrag.Open(c.Context, cfg,
		groundrag.WithAIOptions(
			ai.WithGeminiAPIKey(os.Getenv("GEMINI_API_KEY")),
			ai.WithTavilyAPIKey(os.Getenv("TAVILY_API_KEY")),
		),
		groundrag.WithProgress(c.App.ErrWriter),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}
	return kb, nil
}

func addCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one path is required")
	}
	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	var errs []error
	for _, path := range c.Args().Slice() {
		results, err := kb.AddPath(c.Context, path)
		for _, r := range results {
			if r.Err == nil {
				fmt.Fprintf(c.App.Writer, "Indexed %s (%d chunks)\n", r.Document.SourceName, r.Chunks)
			}
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func removeCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one document id or path is required")
	}
	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	var errs []error
	for _, arg := range c.Args().Slice() {
		id := arg
		if loader.Supported(arg) {
			id = core.DocumentIDFromSource(loader.SourceName(arg))
		}
		removed, err := kb.RemoveDocument(c.Context, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", arg, err))
			continue
		}
		fmt.Fprintf(c.App.Writer, "Removed %s (%d chunks)\n", arg, removed)
	}
	return errors.Join(errs...)
}

func listCommand(c *cli.Context) error {
	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	docs, err := kb.Documents(c.Context)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%d chars\t%s\n",
			doc.ID, doc.SourceName, len([]rune(doc.Text)), doc.IngestedAt.Format(time.RFC3339))
	}
	return nil
}

func reindexCommand(c *cli.Context) error {
	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	if _, err := kb.ReindexAll(c.Context); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}
	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	answer, err := kb.Query(c.Context, question, !c.Bool("no-web"))
	if err != nil {
		return err
	}

	w := c.App.Writer
	if answer.Context.Empty() {
		fmt.Fprintln(w, "No relevant context found.")
	} else {
		fmt.Fprintln(w, answer.Prompt)
	}
	fmt.Fprintf(w, "\nConfidence: %.2f\n", answer.Confidence)
	if answer.UsedWebSearch {
		fmt.Fprintln(w, "Web search: used")
	}
	if answer.Degraded {
		fmt.Fprintf(w, "Degraded: %s\n", answer.DegradedReason)
	}
	if len(answer.Sources) > 0 {
		fmt.Fprintln(w, "Sources:")
		for _, s := range answer.Sources {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
	return nil
}

func watchCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one directory is required")
	}
	dir := c.Args().First()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	if _, err := kb.AddPath(ctx, dir); err != nil {
		slog.Warn("initial scan incomplete", "dir", dir, "err", err)
	}
	fmt.Fprintf(c.App.ErrWriter, "Watching %s (Ctrl-C to stop)\n", dir)

	err = kb.Watch(ctx, dir)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func statsCommand(c *cli.Context) error {
	kb, err := openKnowledgeBase(c)
	if err != nil {
		return err
	}
	defer kb.Close()

	stats, err := kb.Stats(c.Context)
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Documents:       %d\n", stats.Documents)
	fmt.Fprintf(w, "Chunks:          %d\n", stats.Chunks)
	fmt.Fprintf(w, "Dimension:       %d\n", stats.Dimension)
	fmt.Fprintf(w, "Embedding model: %s\n", stats.EmbeddingModel)
	if err := kb.Err(); err != nil {
		fmt.Fprintf(w, "Index:           needs reindex (%v)\n", err)
	}
	return nil
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
