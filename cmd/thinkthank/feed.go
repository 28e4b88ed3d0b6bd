package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/feed"
)

func init() {
	rootCmd.AddCommand(feedCmd)
	feedCmd.AddCommand(feedLikeCmd, feedSaveCmd, feedCommentsCmd, feedCommentCmd, feedPostCmd)
	feedPostCmd.Flags().String("type", string(feed.PostInsight), "post type: insight, question or ai")
	feedPostCmd.Flags().StringSlice("tags", nil, "insight tags")
	feedPostCmd.Flags().StringSlice("bullets", nil, "AI highlight bullets")
}

func withFeed(cmd *cobra.Command, run func(engine *feed.Engine) error) error {
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
	cmd.SetContext(ctx)

	engine := feed.New(client, printNotifier{})
	if err := engine.LoadFeed(ctx); err != nil {
		return err
	}
	return run(engine)
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Show the community feed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFeed(cmd, func(engine *feed.Engine) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tAUTHOR\tLIKES\tCOMMENTS\tPOSTED\tTEXT")
			for _, post := range engine.Snapshot().Posts {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d%s\t%d\t%s\t%s\n",
					post.ID, post.PostType, post.Author.Username,
					post.LikeCount, marker(post.IsLiked, "*"),
					post.CommentCount, humanize.Time(post.CreatedAt), headline(post))
			}
			return w.Flush()
		})
	},
}

var feedLikeCmd = &cobra.Command{
	Use:   "like POST_ID",
	Short: "Like or unlike a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFeed(cmd, func(engine *feed.Engine) error {
			post, err := engine.ToggleLike(cmd.Context(), backend.ID(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d likes (liked: %t)\n", post.ID, post.LikeCount, post.IsLiked)
			return nil
		})
	},
}

var feedSaveCmd = &cobra.Command{
	Use:   "save POST_ID",
	Short: "Save or unsave a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFeed(cmd, func(engine *feed.Engine) error {
			post, err := engine.ToggleSave(cmd.Context(), backend.ID(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("%s: saved %t\n", post.ID, post.IsSaved)
			return nil
		})
	},
}

var feedCommentsCmd = &cobra.Command{
	Use:   "comments POST_ID",
	Short: "Show the comments of a post",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFeed(cmd, func(engine *feed.Engine) error {
			post, err := engine.ExpandComments(cmd.Context(), backend.ID(args[0]))
			if err != nil {
				return err
			}
			if post.CommentError != "" {
				return fmt.Errorf("%s", post.CommentError)
			}
			for _, comment := range post.Comments {
				fmt.Printf("%s (%s): %s\n", comment.User.Username, humanize.Time(comment.CreatedAt.Time), comment.Content)
			}
			return nil
		})
	},
}

var feedCommentCmd = &cobra.Command{
	Use:   "comment POST_ID TEXT...",
	Short: "Comment on a post",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFeed(cmd, func(engine *feed.Engine) error {
			_, err := engine.SubmitComment(cmd.Context(), backend.ID(args[0]), strings.Join(args[1:], " "))
			return err
		})
	},
}

var feedPostCmd = &cobra.Command{
	Use:   "post TEXT...",
	Short: "Publish an insight, question or AI highlight",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		postType, _ := cmd.Flags().GetString("type")
		tags, _ := cmd.Flags().GetStringSlice("tags")
		bullets, _ := cmd.Flags().GetStringSlice("bullets")
		return withFeed(cmd, func(engine *feed.Engine) error {
			post, err := engine.CreatePost(cmd.Context(), feed.PostType(postType), feed.Draft{
				Content: strings.Join(args, " "),
				Tags:    tags,
				Bullets: bullets,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Published post %s\n", post.ID)
			return nil
		})
	},
}

func headline(post feed.Post) string {
	text := post.Body.Summary
	switch post.PostType {
	case feed.PostQuestion:
		text = post.Body.Question
	case feed.PostAIHighlight:
		text = post.Body.Title
	}
	return truncate(text, 60)
}

func truncate(text string, limit int) string {
	runes := []rune(strings.Join(strings.Fields(text), " "))
	if len(runes) <= limit {
		return string(runes)
	}
	return string(runes[:limit-3]) + "..."
}

func marker(set bool, mark string) string {
	if set {
		return mark
	}
	return ""
}
