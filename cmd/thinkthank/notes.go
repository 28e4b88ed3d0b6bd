package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Abhijagtp/ThinkThank/internal/auth"
	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/export"
	"github.com/Abhijagtp/ThinkThank/internal/gitrepo"
	"github.com/Abhijagtp/ThinkThank/internal/notes"
)

func init() {
	rootCmd.AddCommand(notesCmd)
	notesCmd.AddCommand(notesAddCmd, notesStarCmd, notesDeleteCmd, notesTagsCmd, notesHistoryCmd, notesShowCmd, notesExportCmd)

	notesCmd.Flags().String("filter", string(notes.FilterAll), "all, starred, recent or tag")
	notesCmd.Flags().String("tag", "", "tag to show with --filter tag")
	notesCmd.Flags().StringP("query", "q", "", "match title, content and tags")

	notesAddCmd.Flags().String("title", "", "note title")
	notesAddCmd.Flags().StringSlice("tags", nil, "note tags")
	notesAddCmd.Flags().String("color", "", "note color")

	notesHistoryCmd.Flags().Int("limit", 20, "maximum revisions to list")
	notesShowCmd.Flags().String("at", "", "show the note as recorded in this revision")

	notesExportCmd.Flags().String("format", string(export.FormatPDF), "pdf, docx, html or txt")
	notesExportCmd.Flags().StringP("out", "o", "", "output file (default: the export's file name)")
}

type notesEnv struct {
	mgr    *notes.Manager
	vault  *gitrepo.Service
	holder *auth.Holder
}

// withNotes loads the user's notes, recording each one in the local vault.
func withNotes(cmd *cobra.Command, run func(env notesEnv) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, holder, err := newClient(cmd, cfg)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()
	cmd.SetContext(ctx)

	if err := os.MkdirAll(cfg.NotesVaultDir, 0o755); err != nil {
		return fmt.Errorf("create notes vault dir: %w", err)
	}
	vault := gitrepo.New(cfg.NotesVaultDir)
	mgr := notes.New(client, owner(holder), printNotifier{},
		notes.WithMirror(&notes.Mirrors{Vault: vault, Timeout: 15 * time.Second}),
		notes.WithExporter(export.NewService(nil, nil)),
	)
	if err := mgr.Load(ctx); err != nil {
		return err
	}
	return run(notesEnv{mgr: mgr, vault: vault, holder: holder})
}

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "List saved notes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, _ := cmd.Flags().GetString("filter")
		tag, _ := cmd.Flags().GetString("tag")
		query, _ := cmd.Flags().GetString("query")
		return withNotes(cmd, func(env notesEnv) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\t\tTITLE\tTAGS\tSOURCE\tUPDATED")
			for _, note := range env.mgr.List(notes.View{Filter: notes.Filter(filter), Tag: tag, Query: query}) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					note.ID, marker(note.Starred, "★"), truncate(note.Title, 40),
					strings.Join(note.Tags, ","), note.SourceType, humanize.Time(note.UpdatedAt.Time))
			}
			return w.Flush()
		})
	},
}

var notesAddCmd = &cobra.Command{
	Use:   "add CONTENT...",
	Short: "Create a note",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		color, _ := cmd.Flags().GetString("color")
		return withNotes(cmd, func(env notesEnv) error {
			note, err := env.mgr.Create(cmd.Context(), strings.Join(args, " "), backend.NoteMetadata{Title: title, Tags: tags, Color: color})
			if err != nil {
				return err
			}
			fmt.Printf("Created note %s\n", note.ID)
			return nil
		})
	},
}

var notesStarCmd = &cobra.Command{
	Use:   "star NOTE_ID",
	Short: "Star or unstar a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNotes(cmd, func(env notesEnv) error {
			_, err := env.mgr.ToggleStar(cmd.Context(), backend.ID(args[0]))
			return err
		})
	},
}

var notesDeleteCmd = &cobra.Command{
	Use:   "delete NOTE_ID",
	Short: "Delete a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNotes(cmd, func(env notesEnv) error {
			return env.mgr.Delete(cmd.Context(), backend.ID(args[0]))
		})
	},
}

var notesTagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Count notes per tag",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withNotes(cmd, func(env notesEnv) error {
			for _, tc := range env.mgr.Tags() {
				fmt.Printf("%4d  %s\n", tc.Count, tc.Tag)
			}
			return nil
		})
	},
}

var notesHistoryCmd = &cobra.Command{
	Use:   "history NOTE_ID",
	Short: "List the recorded revisions of a note",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withNotes(cmd, func(env notesEnv) error {
			revisions, err := env.mgr.Revisions(backend.ID(args[0]), limit)
			if err != nil {
				return err
			}
			for _, rev := range revisions {
				fmt.Printf("%s  %-14s  %s\n", rev.Hash, humanize.Time(rev.CreatedAt), rev.Message)
			}
			return nil
		})
	},
}

var notesShowCmd = &cobra.Command{
	Use:   "show NOTE_ID",
	Short: "Print a note, optionally as of a past revision",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("at")
		return withNotes(cmd, func(env notesEnv) error {
			noteID := backend.ID(args[0])
			current, ok := env.mgr.Note(noteID)
			if !ok {
				return notes.ErrNoteNotFound
			}
			if at == "" {
				fmt.Printf("# %s\n\n%s\n", current.Title, current.Content)
				return nil
			}
			past, err := env.vault.NoteAt(owner(env.holder), noteID.String(), at)
			if err != nil {
				return err
			}
			fmt.Printf("# %s (at %s)\n\n%s\n", past.Title, at, past.Content)
			now, err := env.vault.NoteAt(owner(env.holder), noteID.String(), "HEAD")
			if err != nil {
				return err
			}
			for _, change := range gitrepo.DiffFields(past, now) {
				fmt.Printf("\n%s changed since:\n- %s\n+ %s\n", change["field"], change["before"], change["after"])
			}
			return nil
		})
	},
}

var notesExportCmd = &cobra.Command{
	Use:   "export NOTE_ID",
	Short: "Export a note as PDF, DOCX, HTML or text",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		formatFlag, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		format, err := export.ParseFormat(formatFlag)
		if err != nil {
			return err
		}
		return withNotes(cmd, func(env notesEnv) error {
			result, err := env.mgr.Export(cmd.Context(), backend.ID(args[0]), format, false)
			if err != nil {
				return err
			}
			if out == "" {
				out = result.Filename
			}
			if err := os.WriteFile(out, result.Data, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Printf("Wrote %s (%s)\n", out, humanize.IBytes(uint64(len(result.Data))))
			return nil
		})
	},
}
