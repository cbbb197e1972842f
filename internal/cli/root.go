// Package cli implements the chessctl command tree.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/park285/cheese-arena/internal/client"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server string
	Token  string
	Format string // "json" | "text"
}

var ValidFormats = []string{"text", "json"}

func (o *RootOptions) client() *client.Client {
	return client.New(o.Server, client.WithToken(o.Token))
}

// print writes v as indented JSON in json mode, otherwise calls text.
func (o *RootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "chessctl",
		Short:         "Command line client for a cheese-arena server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	server := os.Getenv("CHESS_SERVER")
	if server == "" {
		server = "http://localhost:8000"
	}
	cmd.PersistentFlags().StringVar(&opts.Server, "server", server, "server base URL")
	cmd.PersistentFlags().StringVar(&opts.Token, "token", os.Getenv("CHESS_TOKEN"), "session token")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		newRegisterCommand(opts),
		newLoginCommand(opts),
		newLogoutCommand(opts),
		newCreateCommand(opts),
		newShowCommand(opts),
		newPGNCommand(opts),
		newBoardCommand(opts),
		newOnlineCommand(opts),
		newHealthCommand(opts),
		newPlayCommand(opts),
		newWatchCommand(opts),
		newSchemaCommand(opts),
	)
	return cmd
}
