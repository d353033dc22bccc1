package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"aidesk/internal/erp"
	"aidesk/internal/logging"
	"aidesk/internal/stream"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

func newChatCommand(a *app) *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions about a project over the streaming chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), a, projectID)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&projectID, "project", "p", erp.DemoProjectID, "project id")
	flags.String("user", "", "user id recorded with the transcript")
	flags.String("url", "", "chat websocket URL")
	bindFlag(flags, "user", "stream.user_id")
	bindFlag(flags, "url", "stream.url")
	return cmd
}

type chatEventKind int

const (
	chatSummary chatEventKind = iota
	chatComplete
	chatError
	chatDisconnect
)

type chatEvent struct {
	kind chatEventKind
	text string
	err  error
}

// chatListener forwards controller callbacks to the prompt loop.
type chatListener struct {
	events chan chatEvent
}

func newChatListener() *chatListener {
	return &chatListener{events: make(chan chatEvent, 16)}
}

func (l *chatListener) OnSummary(text string)  { l.events <- chatEvent{kind: chatSummary, text: text} }
func (l *chatListener) OnComplete(text string) { l.events <- chatEvent{kind: chatComplete, text: text} }
func (l *chatListener) OnError(message string) { l.events <- chatEvent{kind: chatError, text: message} }
func (l *chatListener) OnDisconnect(err error) { l.events <- chatEvent{kind: chatDisconnect, err: err} }

type asker interface {
	Ask(ctx context.Context, question string, actx stream.AskContext) error
}

// chatSession runs one question at a time and prints the streamed answer.
type chatSession struct {
	asker  asker
	events <-chan chatEvent
	out    io.Writer
	actx   stream.AskContext
}

// errDisconnected ends the prompt loop.
var errDisconnected = errors.New("chat connection lost")

// ask sends question and blocks until the exchange ends.
func (s *chatSession) ask(ctx context.Context, question string) error {
	if err := s.drain(); err != nil {
		return err
	}
	if err := s.asker.Ask(ctx, question, s.actx); err != nil {
		return err
	}
	shown := ""
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			switch ev.kind {
			case chatSummary:
				shown = ev.text
				fmt.Fprintln(s.out, green(ev.text))
			case chatComplete:
				if ev.text != shown {
					fmt.Fprintln(s.out, green(ev.text))
				}
				return nil
			case chatError:
				fmt.Fprintln(s.out, red(ev.text))
				return nil
			case chatDisconnect:
				fmt.Fprintln(s.out, red(fmt.Sprintf("Disconnected: %v", ev.err)))
				return errDisconnected
			}
		}
	}
}

// drain discards events left over from an abandoned exchange and reports a
// disconnect that happened while no question was pending.
func (s *chatSession) drain() error {
	for {
		select {
		case ev := <-s.events:
			if ev.kind == chatDisconnect {
				fmt.Fprintln(s.out, red(fmt.Sprintf("Disconnected: %v", ev.err)))
				return errDisconnected
			}
		default:
			return nil
		}
	}
}

func runChat(ctx context.Context, a *app, projectID string) error {
	cfg := a.cfg.Stream
	listener := newChatListener()
	controller := stream.NewController(stream.Config{
		URL:                  cfg.URL,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		DefaultUserID:        cfg.UserID,
	}, listener, logging.NewComponentLogger("Stream"))
	if err := controller.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.URL, err)
	}
	defer controller.Close()

	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "? ",
		HistoryFile:       filepath.Join(homeDir, ".aidesk-history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	session := &chatSession{
		asker:  controller,
		events: listener.events,
		out:    rl.Stdout(),
		actx:   stream.AskContext{ProjectID: projectID, UserID: cfg.UserID},
	}
	fmt.Fprintf(rl.Stdout(), "%s project %s. Type 'exit' to quit.\n", bold("aidesk chat"), projectID)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		question := strings.TrimSpace(line)
		switch question {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := session.ask(ctx, question); err != nil {
			if errors.Is(err, errDisconnected) || ctx.Err() != nil {
				return reported(err)
			}
			fmt.Fprintln(rl.Stdout(), red(err.Error()))
		}
	}
}
