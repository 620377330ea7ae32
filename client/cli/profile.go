package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"nearchat/client/api"
	"nearchat/client/profile"
)

func photosCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photos",
		Short: "Manage profile photos",
	}

	var userID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List photos of a user (default: yourself)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireUser(cmd.Context()); err != nil {
				return err
			}
			s, err := e.app.Open(cmd.Context())
			if err != nil {
				return err
			}
			owner := s.User
			if userID != "" && userID != owner.ID {
				if owner, _, err = s.Viewer.Load(cmd.Context(), userID); err != nil {
					return err
				}
			}
			gallery := s.Gallery
			if owner.ID != s.User.ID {
				gallery = profile.NewGallery(e.client, owner.ID, e.notifier, e.log)
			}
			gallery.Load(cmd.Context())
			for i, p := range gallery.Images(owner) {
				if i == 0 && owner.ProfileImg != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%-26s %s\n", "(profile)", p.URL)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-26s %s\n", p.ID, p.URL)
			}
			return nil
		},
	}
	list.Flags().StringVar(&userID, "user", "", "user id")

	upload := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireUser(cmd.Context()); err != nil {
				return err
			}
			s, err := e.app.Open(cmd.Context())
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			p, err := s.Gallery.Upload(cmd.Context(), api.Upload{
				FileName:    filepath.Base(args[0]),
				ContentType: contentTypeOf(args[0]),
				Body:        f,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s %s\n", p.ID, p.URL)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <photo-id>",
		Short: "Delete one of your photos",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireUser(cmd.Context()); err != nil {
				return err
			}
			s, err := e.app.Open(cmd.Context())
			if err != nil {
				return err
			}
			return s.Gallery.Delete(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(list, upload, del)
	return cmd
}

func profileCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit profiles",
	}

	show := &cobra.Command{
		Use:   "show [user-id]",
		Short: "Show a profile (default: yours)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireUser(cmd.Context()); err != nil {
				return err
			}
			if len(args) == 0 {
				u, _ := e.app.User()
				printUser(cmd.OutOrStdout(), u)
				return nil
			}
			s, err := e.app.Open(cmd.Context())
			if err != nil {
				return err
			}
			u, _, err := s.Viewer.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printUser(cmd.OutOrStdout(), u)
			return nil
		},
	}

	var name, program, avatar string
	update := &cobra.Command{
		Use:   "update",
		Short: "Update your name, program or avatar",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireUser(cmd.Context()); err != nil {
				return err
			}
			current, _ := e.app.User()
			p := api.ProfileUpdate{FullName: current.FullName, Program: current.Program}
			if cmd.Flags().Changed("name") {
				p.FullName = name
			}
			if cmd.Flags().Changed("program") {
				p.Program = program
			}
			if avatar != "" {
				f, err := os.Open(avatar)
				if err != nil {
					return err
				}
				defer f.Close()
				p.Avatar = &api.Upload{FileName: filepath.Base(avatar), ContentType: contentTypeOf(avatar), Body: f}
			}
			if !cmd.Flags().Changed("name") && !cmd.Flags().Changed("program") && p.Avatar == nil {
				return errors.New("nothing to update: pass --name, --program or --avatar")
			}

			s, err := e.app.Open(cmd.Context())
			if err != nil {
				return err
			}
			u, err := s.Editor.Update(cmd.Context(), p)
			if err != nil {
				return err
			}
			e.app.SetUser(u)
			printUser(cmd.OutOrStdout(), u)
			return nil
		},
	}
	update.Flags().StringVar(&name, "name", "", "full name")
	update.Flags().StringVar(&program, "program", "", "study program")
	update.Flags().StringVar(&avatar, "avatar", "", "new profile image")

	cmd.AddCommand(show, update)
	return cmd
}

func premiumCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "premium",
		Short: "Premium subscription",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the subscription state",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := e.client.Subscription(cmd.Context())
			if err != nil {
				return err
			}
			if !sub.Active {
				fmt.Fprintln(cmd.OutOrStdout(), "No active subscription. Premium unlocks reactions.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plan %s active", sub.Plan)
			if sub.ExpiresAt != nil {
				fmt.Fprintf(cmd.OutOrStdout(), " until %s", sub.ExpiresAt.Local().Format("Jan 02 2006"))
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	var plan string
	subscribe := &cobra.Command{
		Use:   "subscribe",
		Short: "Start a premium subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := e.client.Subscribe(cmd.Context(), plan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subscribed to %s\n", sub.Plan)
			return nil
		},
	}
	subscribe.Flags().StringVar(&plan, "plan", api.PlanMonthly, "plan to subscribe to")

	cmd.AddCommand(status, subscribe)
	return cmd
}
