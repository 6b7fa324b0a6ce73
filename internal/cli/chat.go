package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/harun/olmchat/pkg/autosave"
	"github.com/harun/olmchat/pkg/client"
	"github.com/harun/olmchat/pkg/session"
	"github.com/spf13/cobra"
)

var chatSession string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat interactively, saving the conversation as a session",
	Long: `Start an interactive chat. Each line you type is sent to the configured
provider; the reply is streamed into the current session, which is created on
the first message and saved when the reply completes.

Commands:
  /new            start a new session
  /list           list sessions
  /switch <n>     switch to session number n from /list
  /export [fmt]   print the current conversation (txt, json, yaml)
  /quit           leave`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "resume a session by file name or path")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	p, err := rt.provider()
	if err != nil {
		return err
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("%s is not reachable, start it and retry: %w", p.Name(), err)
	}

	backend, err := rt.backend()
	if err != nil {
		return err
	}

	c := client.New(backend,
		client.WithProvider(p),
		client.WithLogger(rt.log.Logger),
		client.WithGreeting(rt.cfg.Client.Greeting),
		client.WithModel(rt.cfg.Provider.Model),
		client.WithAutosave(autosave.WithDelay(rt.cfg.Autosave.Delay())),
	)
	defer func() {
		if err := c.Close(context.Background()); err != nil {
			rt.log.Warn().Err(err).Msg("Failed to save on exit")
		}
	}()

	if err := c.LoadSessions(ctx); err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}

	if chatSession != "" {
		target, ok := findSession(c.Sessions(), chatSession)
		if !ok {
			return fmt.Errorf("session %q not found", chatSession)
		}
		if err := c.SwitchSession(ctx, target); err != nil {
			return fmt.Errorf("failed to open session: %w", err)
		}
		fmt.Fprintf(out, "Resumed %s\n", target.SessionName)
	}

	if err := client.WriteText(out, c.Messages()); err != nil {
		return err
	}

	return chatLoop(ctx, c, cmd.InOrStdin(), out)
}

func chatLoop(ctx context.Context, c *client.Client, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := chatCommand(ctx, c, line, out)
			if err != nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		if err := c.SendMessage(ctx, line); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}

		msgs := c.Messages()
		if last := msgs[len(msgs)-1]; last.Role == session.RoleAssistant {
			fmt.Fprintf(out, "%s\n\n", last.Content)
		}
	}
}

func chatCommand(ctx context.Context, c *client.Client, line string, out io.Writer) (bool, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/new":
		created, err := c.CreateNewSession(ctx)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Started %s\n", created.SessionName)
		return false, client.WriteText(out, c.Messages())

	case "/list":
		if err := c.LoadSessions(ctx); err != nil {
			return false, err
		}
		current := c.Current()
		for i, s := range c.Sessions() {
			marker := " "
			if current != nil && current.ID == s.ID {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %d. %s (%d messages)\n", marker, i+1, s.SessionName, len(s.Messages))
		}
		return false, nil

	case "/switch":
		if len(fields) != 2 {
			return false, fmt.Errorf("usage: /switch <n>")
		}
		sessions := c.Sessions()
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 1 || n > len(sessions) {
			return false, fmt.Errorf("no session number %q", fields[1])
		}
		target := sessions[n-1]
		if err := c.SwitchSession(ctx, target); err != nil {
			return false, err
		}
		fmt.Fprintf(out, "Switched to %s\n", target.SessionName)
		return false, client.WriteText(out, c.Messages())

	case "/export":
		format := client.FormatText
		if len(fields) > 1 {
			format = fields[1]
		}
		return false, c.Export(out, format)
	}

	return false, fmt.Errorf("unknown command %s", fields[0])
}

// findSession matches by file path, file name or session name.
func findSession(sessions []session.Session, ref string) (session.Session, bool) {
	for _, s := range sessions {
		if s.FilePath == ref || filepath.Base(s.FilePath) == ref || s.SessionName == ref {
			return s, true
		}
	}
	return session.Session{}, false
}
