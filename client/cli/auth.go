package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"nearchat/client/api"
	"nearchat/client/session"
)

func loginCommand(e *env) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and remember the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := e.app.Login(cmd.Context(), email, password)
			if errors.Is(err, session.ErrNeedsVerification) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not verified yet. Request a code with `nearchat send-code --email %s`\nthen run `nearchat verify --email %s --code <code>`.\n", email, email, email)
				return err
			}
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", u.FullName)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func registerCommand(e *env) *cobra.Command {
	var r api.Registration
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account; a verification code is sent by email",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := e.app.Register(cmd.Context(), r)
			if err != nil {
				return err
			}
			if msg == "" {
				msg = "Account created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s. Verify it with `nearchat verify --email %s --code <code>`.\n", msg, r.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&r.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&r.Email, "email", "", "university email")
	cmd.Flags().StringVar(&r.Password, "password", "", "password")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}

func verifyCommand(e *env) *cobra.Command {
	var email, code string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Confirm an email address with the emailed code and sign in",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := e.app.Verify(cmd.Context(), email, code)
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Verified. Signed in as %s\n", u.FullName)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&code, "code", "", "verification code")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("code")
	return cmd
}

func sendCodeCommand(e *env) *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "send-code",
		Short: "Send a new verification code",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := e.app.SendVerificationCode(cmd.Context(), email)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.app.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func whoamiCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireUser(cmd.Context()); err != nil {
				return err
			}
			u, _ := e.app.User()
			printUser(cmd.OutOrStdout(), u)
			return nil
		},
	}
}

func passwordCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Change or reset the account password",
	}

	var current, next string
	change := &cobra.Command{
		Use:   "change",
		Short: "Change the password of the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireUser(cmd.Context()); err != nil {
				return err
			}
			_, err := e.app.ChangePassword(cmd.Context(), current, next)
			return err
		},
	}
	change.Flags().StringVar(&current, "current", "", "current password")
	change.Flags().StringVar(&next, "new", "", "new password")
	change.MarkFlagRequired("current")
	change.MarkFlagRequired("new")

	var email string
	forgot := &cobra.Command{
		Use:   "forgot",
		Short: "Email a password reset link",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := e.app.RequestPasswordReset(cmd.Context(), email)
			return err
		},
	}
	forgot.Flags().StringVar(&email, "email", "", "account email")
	forgot.MarkFlagRequired("email")

	var token, password, confirm string
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Set a new password with the token from the reset email",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := e.app.ResetPassword(cmd.Context(), token, password, confirm)
			return err
		},
	}
	reset.Flags().StringVar(&token, "token", "", "reset token")
	reset.Flags().StringVar(&password, "new", "", "new password")
	reset.Flags().StringVar(&confirm, "confirm", "", "new password again")
	reset.MarkFlagRequired("token")
	reset.MarkFlagRequired("new")
	reset.MarkFlagRequired("confirm")

	cmd.AddCommand(change, forgot, reset)
	return cmd
}
