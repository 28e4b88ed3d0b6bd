package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Abhijagtp/ThinkThank/internal/backend"
	"github.com/Abhijagtp/ThinkThank/internal/feed"
	"github.com/Abhijagtp/ThinkThank/internal/profile"
	"github.com/Abhijagtp/ThinkThank/internal/upload"
)

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileEditCmd)
	profileEditCmd.Flags().String("username", "", "new username (required)")
	profileEditCmd.Flags().String("email", "", "new email address")
	profileEditCmd.Flags().String("company", "", "new company name")
	profileEditCmd.Flags().String("avatar", "", "path to a profile image")
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show your account and activity",
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

		mgr := profile.New(client, printNotifier{})
		if err := mgr.Load(ctx); err != nil {
			return err
		}
		user, _ := mgr.User()
		posts := feed.New(client, printNotifier{})
		if err := posts.LoadFeed(ctx); err != nil {
			return err
		}
		docs, err := client.Documents(ctx)
		if err != nil {
			return err
		}
		notes, err := client.Notes(ctx)
		if err != nil {
			return err
		}
		activity := profile.BuildActivity(user.ID, posts.Snapshot().Posts, docs, notes)

		fmt.Printf("[%s] %s", profile.Initials(user.Username), user.Username)
		if user.Email != "" {
			fmt.Printf(" <%s>", user.Email)
		}
		if user.CompanyName != "" {
			fmt.Printf(" (%s)", user.CompanyName)
		}
		fmt.Printf("\n\n%d posts, %d documents, %d saved notes\n", len(activity.Posts), len(activity.Documents), len(activity.Notes))
		for _, post := range activity.Posts {
			fmt.Printf("  %s  %s\n", post.ID, headline(post))
		}
		return nil
	},
}

var profileEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Update your username, email, company or avatar",
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

		var update backend.ProfileUpdate
		update.Username, _ = cmd.Flags().GetString("username")
		update.Email, _ = cmd.Flags().GetString("email")
		update.CompanyName, _ = cmd.Flags().GetString("company")
		if path, _ := cmd.Flags().GetString("avatar"); path != "" {
			file, err := upload.FromPath(path)
			if err != nil {
				return err
			}
			update.Avatar = &backend.UploadFile{Name: file.Name, Open: file.Open}
		}

		user, err := profile.New(client, printNotifier{}).Update(ctx, update)
		if err != nil {
			return err
		}
		fmt.Printf("Updated %s\n", user.Username)
		return nil
	},
}
