package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/picorelay/cmd/picorelay/internal"
	"github.com/tinyland-inc/picorelay/pkg/commands"
	"github.com/tinyland-inc/picorelay/pkg/events"
	"github.com/tinyland-inc/picorelay/pkg/logger"
)

const consoleChat = "console"

func consoleCmd(command string) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if err := logger.Configure("warn", cfg.Log.Format); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Access.OwnerID == 0 {
		return errors.New("access.owner_id must be set to use the console")
	}

	ctx := context.Background()
	rt, err := internal.NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	session := &session{dispatcher: rt.Dispatcher, owner: cfg.Access.OwnerID}

	if command != "" {
		fmt.Println(session.run(ctx, command))
		return nil
	}

	fmt.Printf("%s Operator console (Ctrl+C to exit)\n\n", internal.Logo)
	interactiveMode(ctx, session)
	return nil
}

type executor interface {
	Execute(ctx context.Context, req commands.Request) commands.Reply
}

// session runs console lines as the owner in a private chat, so /set_source
// must name the source explicitly.
type session struct {
	dispatcher executor
	owner      int64
}

func (s *session) run(ctx context.Context, line string) string {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		line = "/" + line
	}
	reply := s.dispatcher.Execute(ctx, commands.Request{
		ActorID:  s.owner,
		ChatID:   consoleChat,
		ChatKind: events.ChatPrivate,
		Text:     line,
	})
	if reply.Text == "" && reply.Err != nil {
		return "Error: " + reply.Err.Error()
	}
	return reply.Text
}

func interactiveMode(ctx context.Context, s *session) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          internal.Logo + " > ",
		HistoryFile:     filepath.Join(os.TempDir(), ".picorelay_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		fmt.Println("Falling back to simple input mode...")
		simpleInteractiveMode(ctx, s, os.Stdin, os.Stdout)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if done := handleLine(ctx, s, line, os.Stdout); done {
			return
		}
	}
}

func simpleInteractiveMode(ctx context.Context, s *session, in io.Reader, out io.Writer) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "%s > ", internal.Logo)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}
		if done := handleLine(ctx, s, line, out); done {
			return
		}
	}
}

// handleLine reports whether the console should exit.
func handleLine(ctx context.Context, s *session, line string, out io.Writer) bool {
	input := strings.TrimSpace(line)
	switch input {
	case "":
		return false
	case "exit", "quit":
		fmt.Fprintln(out, "Goodbye!")
		return true
	}
	fmt.Fprintf(out, "%s\n\n", s.run(ctx, input))
	return false
}
