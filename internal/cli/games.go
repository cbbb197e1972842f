package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/spf13/cobra"
)

func newCreateCommand(opts *RootOptions) *cobra.Command {
	var color string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a new game and wait for an opponent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().CreateGame(cmd.Context(), color)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				fmt.Fprintf(w, "game %s created, you play %s\n", res.GameID, res.Color)
			})
		},
	}
	cmd.Flags().StringVar(&color, "color", "random", "white, black or random")
	return cmd
}

func printGame(w io.Writer, g *chessdto.GameView) {
	fmt.Fprintf(w, "game     %s\n", g.ID)
	fmt.Fprintf(w, "status   %s", g.Status)
	if g.Result != "" {
		fmt.Fprintf(w, " (%s)", g.Result)
	}
	fmt.Fprintln(w)
	for _, p := range g.Players {
		name := p.Username
		if name == "" {
			name = p.UserID
		}
		fmt.Fprintf(w, "%-8s %s\n", p.Color, name)
	}
	fmt.Fprintf(w, "turn     %s\n", g.Turn)
	fmt.Fprintf(w, "fen      %s\n", g.Position)
	if len(g.MoveHistory) > 0 {
		fmt.Fprintf(w, "moves    %s\n", strings.Join(g.MoveHistory, " "))
	}
}

func newShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <game-id>",
		Short: "Print a game snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := opts.client().Game(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), g, func(w io.Writer) { printGame(w, g) })
		},
	}
}

func newPGNCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pgn <game-id>",
		Short: "Export a game as PGN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pgn, err := opts.client().PGN(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), pgn)
			return err
		},
	}
}

func newBoardCommand(opts *RootOptions) *cobra.Command {
	var (
		out  string
		flip bool
		size int
	)
	cmd := &cobra.Command{
		Use:   "board <game-id>",
		Short: "Download the board as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			png, err := opts.client().BoardPNG(cmd.Context(), args[0], flip, size)
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".png"
			}
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", out, len(png))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default <game-id>.png)")
	cmd.Flags().BoolVar(&flip, "flip", false, "black at the bottom")
	cmd.Flags().IntVar(&size, "size", 0, "edge length in pixels")
	return cmd
}

func newOnlineCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "online",
		Short: "List online users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := opts.client().Online(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), chessdto.OnlineResponse{Users: users}, func(w io.Writer) {
				for _, u := range users {
					fmt.Fprintln(w, u)
				}
			})
		},
	}
}

func newHealthCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server and storage health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := opts.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), h, func(w io.Writer) {
				fmt.Fprintf(w, "status=%s store=%s\n", h.Status, h.Store)
			})
		},
	}
}
