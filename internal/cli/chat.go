package cli

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"ragchat/internal/tui"
)

func newChatCommand(st *state) *cobra.Command {
	var (
		model   string
		sources []string
	)
	cmd := &cobra.Command{
		Use:   "chat [files...]",
		Short: "Open an interactive chat, optionally ingesting files first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := st.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if len(args) > 0 {
				docs, err := loadFiles(a.Loader, args)
				if err != nil {
					return err
				}
				if _, err := a.Service.Ingest(ctx, docs); err != nil {
					return err
				}
			}
			if model == "" {
				model = st.cfg.ModelKeys()[0]
			}
			m := tui.New(ctx, a.Service, model, sources)
			_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model key (default: first configured key)")
	cmd.Flags().StringSliceVarP(&sources, "file", "f", nil, "restrict retrieval to these source names")
	return cmd
}
