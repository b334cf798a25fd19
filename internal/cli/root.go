// Package cli implements the ragchat command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"ragchat/internal/app"
	"ragchat/internal/config"
	"ragchat/internal/domain"
	"ragchat/internal/generation"
	"ragchat/internal/logger"
	"ragchat/internal/upload"
)

// Options customises the command tree, mainly for tests.
type Options struct {
	ModelFactory generation.Factory
}

type state struct {
	opts     Options
	cfgPath  string
	logLevel string
	logJSON  bool
	cfg      *config.AppConfig
}

// NewRootCommand builds the ragchat command tree.
func NewRootCommand(opts Options) *cobra.Command {
	st := &state{opts: opts}
	root := &cobra.Command{
		Use:   "ragchat",
		Short: "Chat with your documents",
		Long: `ragchat ingests text documents into a vector index and answers
questions about them with a local language model.`,
		SilenceUsage:      true,
		PersistentPreRunE: st.setup,
	}
	root.PersistentFlags().StringVar(&st.cfgPath, "config", "", "path to YAML config (default ./config.yaml or ~/.config/ragchat/config.yaml)")
	root.PersistentFlags().StringVar(&st.logLevel, "log-level", "", "log level: debug, info, warn, error, disabled")
	root.PersistentFlags().BoolVar(&st.logJSON, "log-json", false, "emit logs as JSON")

	root.AddCommand(
		newServeCommand(st),
		newIngestCommand(st),
		newAskCommand(st),
		newChatCommand(st),
	)
	return root
}

// Execute runs the command tree with process defaults.
func Execute() {
	if err := NewRootCommand(Options{}).Execute(); err != nil {
		os.Exit(1)
	}
}

func (st *state) setup(cmd *cobra.Command, _ []string) error {
	var (
		cfg *config.AppConfig
		err error
	)
	if st.cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(st.cfgPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	st.cfg = cfg

	level := cfg.Logging.Level
	if cmd.Flags().Changed("log-level") {
		level = st.logLevel
	}
	logJSON := cfg.Logging.JSON || st.logJSON
	logger.SetupLogger(level, logJSON, false)
	cmd.SetContext(logger.ContextWithLogger(cmd.Context(), logger.GetDefault()))
	return nil
}

func (st *state) build(ctx context.Context) (*app.App, error) {
	return app.Build(ctx, st.cfg, app.Options{ModelFactory: st.opts.ModelFactory})
}

// loadFiles expands glob patterns and decodes every matching file. Nothing
// is ingested unless all files are valid.
func loadFiles(loader *upload.Loader, patterns []string) ([]domain.Document, error) {
	var docs []domain.Document
	for _, p := range patterns {
		matches, err := filepath.Glob(p)
		if err != nil || matches == nil {
			matches = []string{p}
		}
		for _, path := range matches {
			doc, err := loadFile(loader, path)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func loadFile(loader *upload.Loader, path string) (domain.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Document{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return domain.Document{}, err
	}
	return loader.Read(filepath.Base(path), info.Size(), f)
}
