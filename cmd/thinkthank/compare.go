package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/comparison"
)

func init() {
	rootCmd.AddCommand(compareCmd)
	compareCmd.AddCommand(compareHistoryCmd)
	compareCmd.Flags().String("format", "markdown", "result format: markdown or json")
	compareCmd.Flags().String("note", "", "save the result as a note with this title")
	compareCmd.Flags().StringSlice("tags", nil, "note tags (with --note)")
	compareCmd.Flags().String("color", "", "note color (with --note)")
}

var compareCmd = &cobra.Command{
	Use:   "compare DOCUMENT_ID DOCUMENT_ID",
	Short: "Compare two documents",
	Args:  cobra.ExactArgs(2),
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

		docs, err := client.Documents(ctx)
		if err != nil {
			return err
		}
		names := make(map[backend.ID]string, len(docs))
		for _, doc := range docs {
			names[doc.ID] = doc.Name
		}
		doc1 := backend.DocumentRef{ID: backend.ID(args[0]), Name: names[backend.ID(args[0])]}
		doc2 := backend.DocumentRef{ID: backend.ID(args[1]), Name: names[backend.ID(args[1])]}

		session := comparison.New(client, printNotifier{})
		format, _ := cmd.Flags().GetString("format")
		if err := session.SetOutputFormat(format); err != nil {
			return err
		}
		result, err := session.Compare(ctx, doc1, doc2)
		if err != nil {
			return err
		}
		if result.IsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result.ComparisonResult); err != nil {
				return err
			}
		} else {
			printComparison(result)
		}

		if cmd.Flags().Changed("note") {
			title, _ := cmd.Flags().GetString("note")
			tags, _ := cmd.Flags().GetStringSlice("tags")
			color, _ := cmd.Flags().GetString("color")
			note, err := session.SaveAsNote(ctx, backend.NoteMetadata{Title: title, Tags: tags, Color: color})
			if err != nil {
				return err
			}
			fmt.Printf("\nSaved note %s (%s)\n", note.ID, note.Title)
		}
		return nil
	},
}

var compareHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List past comparisons",
	Args:  cobra.NoArgs,
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

		session := comparison.New(client, printNotifier{})
		if err := session.LoadHistory(ctx); err != nil {
			return err
		}
		for _, record := range session.Snapshot().History {
			fmt.Printf("%s  %-14s  %s vs %s: %s\n",
				record.ID, humanize.Time(record.CreatedAt.Time),
				nameOrID(record.Document1), nameOrID(record.Document2),
				truncate(string(record.Result.Summary), 60))
		}
		return nil
	},
}

func printComparison(result comparison.Result) {
	fmt.Printf("%s vs %s\n\n%s\n", nameOrID(result.Document1), nameOrID(result.Document2), result.Summary)
	if len(result.KeyDifferences) > 0 {
		fmt.Println("\nKey differences:")
		for _, diff := range result.KeyDifferences {
			fmt.Printf("  %s: %s -> %s (%s)\n", diff.Category, diff.Doc1Value, diff.Doc2Value, diff.Change)
		}
	}
	for _, insight := range result.Insights {
		fmt.Printf("  * %s\n", insight)
	}
	for _, rec := range result.Recommendations {
		fmt.Printf("  > %s\n", rec)
	}
}

func nameOrID(ref backend.DocumentRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	return "document " + ref.ID.String()
}
