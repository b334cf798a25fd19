package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"ragchat/internal/service"
)

type askFlags struct {
	model   string
	files   []string
	ingest  []string
	stream  bool
	asJSON  bool
	showCtx bool
}

func newAskCommand(st *state) *cobra.Command {
	f := &askFlags{}
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask one question and print the answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, st, f, args[0])
		},
	}
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model key (default: first configured key)")
	cmd.Flags().StringSliceVarP(&f.files, "file", "f", nil, "restrict retrieval to these source names")
	cmd.Flags().StringSliceVar(&f.ingest, "ingest", nil, "ingest these files before asking")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "print the answer as it is generated")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print the full response as JSON")
	cmd.Flags().BoolVar(&f.showCtx, "show-context", false, "print the retrieved chunks after the answer")
	return cmd
}

func runAsk(cmd *cobra.Command, st *state, f *askFlags, question string) error {
	ctx := cmd.Context()
	a, err := st.build(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	if len(f.ingest) > 0 {
		docs, err := loadFiles(a.Loader, f.ingest)
		if err != nil {
			return err
		}
		if _, err := a.Service.Ingest(ctx, docs); err != nil {
			return err
		}
	}

	model := f.model
	if model == "" {
		model = st.cfg.ModelKeys()[0]
	}
	req := service.QueryRequest{Model: model, Message: question, Sources: f.files}

	if f.stream && !f.asJSON {
		return a.Service.Stream(ctx, req, func(e service.Event) error {
			switch e.Type {
			case service.EventToken:
				cmd.Print(e.Content)
			case service.EventDone:
				cmd.Println()
			case service.EventError:
				cmd.Println()
				return fmt.Errorf("generation failed: %s", e.Detail)
			}
			return nil
		})
	}

	answer, err := a.Service.Answer(ctx, req)
	if err != nil {
		return err
	}
	if f.asJSON {
		data, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}
	cmd.Println(answer.Answer)
	if f.showCtx {
		cmd.Println()
		for i, h := range answer.RetrievedChunks {
			cmd.Printf("[%d] %s #%d (%.3f)\n%s\n\n", i+1, h.Source, h.Index, h.Score, h.Text)
		}
	}
	return nil
}
