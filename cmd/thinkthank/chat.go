package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/conversation"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(documentsCmd)
	chatCmd.Flags().String("format", string(conversation.FormatMarkdown), "answer format: markdown or json")
	chatCmd.Flags().Bool("history", false, "print the stored conversation before asking")
	chatCmd.Flags().String("note", "", "save the answer as a note with this title")
	chatCmd.Flags().StringSlice("tags", nil, "note tags (with --note)")
	chatCmd.Flags().String("color", "", "note color (with --note)")
}

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List uploaded documents",
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

		docs, err := client.Documents(ctx)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			fmt.Printf("%s\t%s\t%s\n", doc.ID, doc.FileType, doc.Name)
		}
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat DOCUMENT_ID QUESTION...",
	Short: "Ask the analyzer a question about a document",
	Args:  cobra.MinimumNArgs(2),
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
		var doc *backend.Document
		for i := range docs {
			if docs[i].ID == backend.ID(args[0]) {
				doc = &docs[i]
				break
			}
		}
		if doc == nil {
			return fmt.Errorf("document %s not found", args[0])
		}

		// Signalled once the history load for the selection has settled.
		settled := make(chan struct{}, 1)
		conv := conversation.New(client,
			conversation.WithNotifier(printNotifier{}),
			conversation.WithDebounce(0),
			conversation.WithObserver(func(snap conversation.Snapshot) {
				if snap.Document != nil && !snap.Thread.Pending && snap.State == conversation.StateIdle {
					select {
					case settled <- struct{}{}:
					default:
					}
				}
			}),
		)
		defer conv.Close()

		format, _ := cmd.Flags().GetString("format")
		if err := conv.SetOutputFormat(conversation.OutputFormat(format)); err != nil {
			return err
		}
		conv.SelectDocument(*doc)
		select {
		case <-settled:
		case <-ctx.Done():
			return ctx.Err()
		}

		if showHistory, _ := cmd.Flags().GetBool("history"); showHistory {
			for _, message := range conv.Snapshot().Thread.Messages {
				if message.Synthetic {
					continue
				}
				fmt.Printf("%s> %s\n\n", message.Role, message.Content)
			}
		}

		reply, err := conv.SendMessage(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		fmt.Println(reply.Content)
		for _, insight := range reply.Insights {
			fmt.Printf("  * %s: %s\n", insight.Label, insight.Value)
		}

		title, _ := cmd.Flags().GetString("note")
		if cmd.Flags().Changed("note") {
			tags, _ := cmd.Flags().GetStringSlice("tags")
			color, _ := cmd.Flags().GetString("color")
			note, err := conv.SaveMessageAsNote(ctx, reply, backend.NoteMetadata{Title: title, Tags: tags, Color: color})
			if err != nil {
				return err
			}
			fmt.Printf("\nSaved note %s (%s)\n", note.ID, note.Title)
		}
		return nil
	},
}
