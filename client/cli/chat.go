package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"nearchat/client/chat"
	"nearchat/client/model"
)

const confirmTimeout = 10 * time.Second

func chatCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Read and write the shared chat room",
	}
	cmd.AddCommand(chatTailCommand(e), chatSendCommand(e), chatReactCommand(e), chatHistoryCommand(e))
	return cmd
}

func chatHistoryCommand(e *env) *cobra.Command {
	var pages int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the most recent messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := e.requireUser(cmd.Context()); err != nil {
				return err
			}
			s, err := e.app.Open(cmd.Context())
			if err != nil {
				return err
			}
			if err := s.Chat.LoadInitial(cmd.Context()); err != nil {
				return err
			}
			for i := 1; i < pages; i++ {
				n, err := s.Chat.LoadEarlier(cmd.Context())
				if errors.Is(err, chat.ErrWindowFull) {
					fmt.Fprintf(cmd.ErrOrStderr(), "only the newest %d messages are kept\n", s.Window.Len())
					break
				}
				if err != nil {
					return err
				}
				if n == 0 {
					break
				}
			}
			printWindow(cmd.OutOrStdout(), s.Window)
			return nil
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to load")
	return cmd
}

func chatSendCommand(e *env) *cobra.Command {
	var media string
	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Send a text message or, with --media, an image or video",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if media == "" && len(args) == 0 {
				return errors.New("nothing to send: pass a text or --media")
			}
			s, stop, err := e.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()

			var msg model.Message
			if media != "" {
				f, err := os.Open(media)
				if err != nil {
					return err
				}
				defer f.Close()
				msg, err = s.Chat.SendMedia(cmd.Context(), f, contentTypeOf(media))
				if err != nil {
					return err
				}
			} else {
				msg, err = s.Chat.SendText(cmd.Context(), args[0])
				if err != nil {
					return err
				}
			}

			confirmed, err := awaitConfirmation(cmd.Context(), s.Window, msg.TempID, confirmTimeout)
			if err != nil {
				return err
			}
			printMessage(cmd.OutOrStdout(), confirmed)
			return nil
		},
	}
	cmd.Flags().StringVar(&media, "media", "", "image or video file to send")
	return cmd
}

func chatReactCommand(e *env) *cobra.Command {
	var showRecent bool
	cmd := &cobra.Command{
		Use:   "react <message-id> <emoji>",
		Short: "React to a message; --recent lists recently used reactions",
		Args: func(cmd *cobra.Command, args []string) error {
			if showRecent {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if showRecent {
				list, err := e.store.RecentReactions()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(list, " "))
				return nil
			}
			s, stop, err := e.openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer stop()
			return s.Chat.React(cmd.Context(), args[0], args[1])
		},
	}
	cmd.Flags().BoolVar(&showRecent, "recent", false, "list recently used reactions")
	return cmd
}

func chatTailCommand(e *env) *cobra.Command {
	var interactive bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow the chat room; with -i, lines read from stdin are sent",
		Long: `Follow the chat room until interrupted.

With --interactive every line read from stdin is sent as a message. Lines
starting with a slash are commands:
  /more                 load earlier messages
  /react <id> <emoji>   react to a message
  /recent               list recently used reactions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, stop, err := e.openSession(ctx)
			if err != nil {
				return err
			}
			defer stop()

			out := &syncWriter{w: cmd.OutOrStdout()}
			if err := s.Chat.LoadInitial(ctx); err != nil {
				return err
			}
			printWindow(out, s.Window)

			printer := newTailPrinter(out, s.Window)
			unsubscribe := s.Window.Subscribe(printer.flush)
			defer unsubscribe()

			// the session is already connected, so every later "up" is a reconnect
			unwatch := e.watchState(func(connected bool) {
				if connected {
					fmt.Fprintln(out, "-- connected --")
				} else {
					fmt.Fprintln(out, "-- reconnecting --")
				}
			})
			defer unwatch()

			if !interactive {
				<-ctx.Done()
				return nil
			}
			return readInput(ctx, cmd.InOrStdin(), out, s.Chat)
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "send lines read from stdin")
	return cmd
}

func readInput(ctx context.Context, in io.Reader, out io.Writer, svc *chat.Service) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			handleLine(ctx, out, svc, line)
		}
	}
}

func handleLine(ctx context.Context, out io.Writer, svc *chat.Service, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "/more":
		n, err := svc.LoadEarlier(ctx)
		if errors.Is(err, chat.ErrWindowFull) {
			fmt.Fprintf(out, "-- window is full (%d messages); older history is not kept --\n", svc.Window().Len())
			return
		}
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			return
		}
		fmt.Fprintf(out, "-- %d earlier messages --\n", n)
		printWindow(out, svc.Window())
	case "/react":
		if len(fields) != 3 {
			fmt.Fprintln(out, "! usage: /react <message-id> <emoji>")
			return
		}
		if err := svc.React(ctx, fields[1], fields[2]); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	case "/recent":
		fmt.Fprintln(out, strings.Join(svc.RecentReactions(), " "))
	default:
		if _, err := svc.SendText(ctx, line); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
}

// tailPrinter prints every window entry once it is confirmed and again when
// its reactions change.
type tailPrinter struct {
	out    io.Writer
	window *chat.Window

	mu   sync.Mutex
	seen map[string]int
}

func newTailPrinter(out io.Writer, window *chat.Window) *tailPrinter {
	p := &tailPrinter{out: out, window: window, seen: make(map[string]int)}
	for _, m := range window.Messages() {
		p.seen[m.ID] = m.Update
	}
	return p
}

func (p *tailPrinter) flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.window.Messages() {
		if m.Pending {
			continue
		}
		if update, ok := p.seen[m.ID]; ok && update == m.Update {
			continue
		}
		p.seen[m.ID] = m.Update
		printMessage(p.out, m)
	}
}

func printWindow(w io.Writer, window *chat.Window) {
	sorted := window.Sorted()
	for i := len(sorted) - 1; i >= 0; i-- {
		printMessage(w, sorted[i])
	}
}

// awaitConfirmation waits until the entry sent under tempID is confirmed.
func awaitConfirmation(ctx context.Context, window *chat.Window, tempID string, timeout time.Duration) (model.Message, error) {
	changed := make(chan struct{}, 1)
	unsubscribe := window.Subscribe(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		for _, m := range window.Messages() {
			if m.TempID == tempID && !m.Pending {
				return m, nil
			}
		}
		select {
		case <-ctx.Done():
			return model.Message{}, ctx.Err()
		case <-timer.C:
			return model.Message{}, errors.New("message sent but not confirmed by the server")
		case <-changed:
		}
	}
}

func contentTypeOf(path string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// syncWriter serializes writes from the tail printer and the input loop
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
