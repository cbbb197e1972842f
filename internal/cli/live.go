package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/park285/cheese-arena/internal/client"
	"github.com/park285/cheese-arena/pkg/chessdto"
	"github.com/spf13/cobra"
)

// lockedWriter serializes output from socket callbacks and the command goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

// describe renders one frame as a line of text. over reports a finished game.
func describe(f client.Frame) (line string, over bool) {
	switch f.Type {
	case chessdto.TypeState:
		var ev chessdto.StateEvent
		if f.Decode(&ev) != nil {
			return "", false
		}
		return fmt.Sprintf("attached to %s as %s, status %s, turn %s", ev.Game.ID, ev.YourColor, ev.Game.Status, ev.Game.Turn),
			ev.Game.Status == "completed"
	case chessdto.TypeJoined:
		var ev chessdto.JoinedEvent
		if f.Decode(&ev) != nil {
			return "", false
		}
		name := ev.Username
		if name == "" {
			name = ev.UserID
		}
		return fmt.Sprintf("%s joined as %s", name, ev.Color), false
	case chessdto.TypeMove:
		var ev chessdto.MoveEvent
		if f.Decode(&ev) != nil {
			return "", false
		}
		line := fmt.Sprintf("%d. %s (%s) -> %s to move", ev.MoveNumber, ev.SAN, ev.UCI, ev.Turn)
		if ev.GameStatus != "ongoing" {
			line += ", game over: " + ev.GameStatus
			return line, true
		}
		return line, false
	case chessdto.TypeResigned:
		var ev chessdto.ResignedEvent
		if f.Decode(&ev) != nil {
			return "", false
		}
		return fmt.Sprintf("%s resigned, winner %s", ev.UserID, ev.WinnerID), true
	case chessdto.TypeError:
		var ev chessdto.ErrorEvent
		if f.Decode(&ev) != nil {
			return "", false
		}
		return fmt.Sprintf("error %s: %s", ev.Code, ev.Message), false
	case chessdto.TypeOnlineUsers:
		var ev chessdto.OnlineUsersEvent
		if f.Decode(&ev) != nil {
			return "", false
		}
		return "online: " + strings.Join(ev.Users, ", "), false
	}
	return "", false
}

func newPlayCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "play <game-id>",
		Short: "Join a game and send moves read from stdin (UCI or SAN, 'resign' to give up)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := &lockedWriter{w: cmd.OutOrStdout()}
			sock := opts.client().GameSocket(args[0])
			done := make(chan struct{})
			var once sync.Once
			finish := func() { once.Do(func() { close(done) }) }

			sock.OnMessage(func(f client.Frame) {
				line, over := describe(f)
				if line != "" {
					out.printf("%s\n", line)
				}
				if over {
					finish()
				}
			})
			sock.OnStateChange(func(st client.SocketState, err error) {
				if st == client.StateDisconnected {
					if err != nil {
						out.printf("disconnected: %v\n", err)
					}
					finish()
				}
			})
			if err := sock.Connect(ctx); err != nil {
				return err
			}
			defer closeSocket(sock)

			go readMoves(ctx, cmd.InOrStdin(), sock, out)

			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	}
}

func readMoves(ctx context.Context, in io.Reader, sock *client.Socket, out *lockedWriter) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		text := strings.TrimSpace(sc.Text())
		var err error
		switch strings.ToLower(text) {
		case "":
			continue
		case "resign":
			err = sock.Resign(ctx)
		case "quit", "exit":
			return
		default:
			err = sock.Move(ctx, text)
		}
		if err != nil {
			out.printf("send failed: %v\n", err)
			return
		}
	}
}

func newWatchCommand(opts *RootOptions) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream the online roster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := &lockedWriter{w: cmd.OutOrStdout()}
			sock := opts.client().PresenceSocket()
			sock.OnMessage(func(f client.Frame) {
				if line, _ := describe(f); line != "" {
					out.printf("%s\n", line)
				}
			})
			if err := sock.Connect(ctx); err != nil {
				return err
			}
			defer closeSocket(sock)

			t := time.NewTicker(interval)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
					if err := sock.Ping(ctx); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "ping", 30*time.Second, "heartbeat interval")
	return cmd
}

func closeSocket(s *client.Socket) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Close(ctx)
}
