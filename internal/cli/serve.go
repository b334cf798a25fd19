package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ragchat/internal/logger"
)

func newServeCommand(st *state) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := st.build(ctx)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(context.Background()); err != nil {
					logger.FromContext(ctx).Error("close failed", "error", err)
				}
			}()
			return a.Server(logger.FromContext(ctx), addr).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
