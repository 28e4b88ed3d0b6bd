package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Abhijagtp/ThinkThank/internal/upload"
)

func init() {
	rootCmd.AddCommand(uploadCmd)
}

var uploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Upload documents for analysis",
	Long: `Queues each file, rejects unsupported types and files over 10 MiB,
then uploads the accepted files in one batch.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		client, _, err := newClient(cmd, cfg)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		files := make([]upload.File, 0, len(args))
		for _, path := range args {
			file, err := upload.FromPath(path)
			if err != nil {
				return err
			}
			files = append(files, file)
		}

		mgr := upload.New(client, printNotifier{})
		mgr.AddFiles(files)
		result, err := mgr.SubmitBatch(ctx)
		printQueue(mgr.Snapshot().Queue)
		if err != nil {
			return err
		}
		fmt.Printf("\n%d submitted, %d completed, %d failed, %d unmatched\n",
			result.Submitted, result.Completed, result.Failed, result.Unmatched)
		return nil
	},
}

func printQueue(queue []upload.Candidate) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tSTATUS\tREASON")
	for _, c := range queue {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.Name, c.Size, c.Status, c.ErrorReason)
	}
	_ = w.Flush()
}
