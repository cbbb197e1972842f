package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/park285/cheese-arena/internal/client"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/spf13/cobra"
)

type credentialFunc func(ctx context.Context, c *client.Client, username, password string) (*chessdto.AuthResponse, error)

func passwordFrom(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if v := os.Getenv("CHESS_PASSWORD"); v != "" {
		return v, nil
	}
	return "", errors.New("--password or CHESS_PASSWORD is required")
}

func newCredentialCommand(opts *RootOptions, use, short string, call credentialFunc) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   use + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := passwordFrom(password)
			if err != nil {
				return err
			}
			auth, err := call(cmd.Context(), opts.client(), args[0], pw)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), auth, func(w io.Writer) {
				fmt.Fprintf(w, "user %s (%s)\n", auth.Username, auth.UserID)
				fmt.Fprintf(w, "export CHESS_TOKEN=%s\n", auth.Token)
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password (or CHESS_PASSWORD)")
	return cmd
}

func newRegisterCommand(opts *RootOptions) *cobra.Command {
	return newCredentialCommand(opts, "register", "Create an account and start a session",
		func(ctx context.Context, c *client.Client, u, p string) (*chessdto.AuthResponse, error) {
			return c.Register(ctx, u, p)
		})
}

func newLoginCommand(opts *RootOptions) *cobra.Command {
	return newCredentialCommand(opts, "login", "Start a session",
		func(ctx context.Context, c *client.Client, u, p string) (*chessdto.AuthResponse, error) {
			return c.Login(ctx, u, p)
		})
}

func newLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged out")
			return nil
		},
	}
}
