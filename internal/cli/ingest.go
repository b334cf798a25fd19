package cli

import (
	"context"

	"github.com/spf13/cobra"
)

func newIngestCommand(st *state) *cobra.Command {
	var noSummary bool
	cmd := &cobra.Command{
		Use:   "ingest <files...>",
		Short: "Index documents into the vector store",
		Long: `Validates and indexes .txt, .doc and .docx files. Re-ingesting a file
with the same name replaces its previous chunks.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := st.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			docs, err := loadFiles(a.Loader, args)
			if err != nil {
				return err
			}
			results, err := a.Service.Ingest(ctx, docs)
			for _, r := range results {
				replaced := ""
				if r.ReplacedPrevious {
					replaced = " (replaced previous)"
				}
				cmd.Printf("%s: %d chunks, %d bytes%s\n", r.FileName, r.ChunkCount, r.FileSize, replaced)
			}
			if err != nil {
				return err
			}
			if noSummary {
				return nil
			}
			summary, err := a.Service.Summarize(docs)
			if err != nil {
				return err
			}
			if summary != "" {
				cmd.Println()
				cmd.Println("Summary:")
				cmd.Println(summary)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noSummary, "no-summary", false, "skip the extractive summary")
	return cmd
}
