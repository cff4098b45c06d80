package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"github.com/Tek-Fly/ide-mesh-suite/internal/bridge"
	"github.com/Tek-Fly/ide-mesh-suite/internal/chat"
	"github.com/Tek-Fly/ide-mesh-suite/internal/logging"
)

// clientStateFile persists the interactive client's last session across
// invocations, next to the config rather than inside it.
type clientStateFile struct {
	LastSessionID string `toml:"last_session_id"`
	Model         string `toml:"model"`
}

// App drives one interactive chat console over one bridge.
type App struct {
	log       zerolog.Logger
	registry  *bridge.Registry
	cfg       bridge.Config
	token     string
	statePath string
	state     clientStateFile

	link  *bridge.Bridge
	store *chat.Store

	rl          *readline.Instance
	session     string
	watchCancel func()
}

func NewApp(registry *bridge.Registry, cfg bridge.Config, token, statePath string) *App {
	return &App{
		log:       logging.For("meshctl"),
		registry:  registry,
		cfg:       cfg,
		token:     token,
		statePath: statePath,
	}
}

func (a *App) Run() error {
	a.loadState()

	link, err := a.registry.Get(a.cfg.Name)
	if err != nil {
		return err
	}
	a.link = link
	a.store = chat.NewStore(link, a.cfg.RequestTimeout)
	defer a.store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ConnectTimeout)
	err = link.Connect(ctx, a.token)
	cancel()
	if err != nil {
		return fmt.Errorf("connect %s: %w", a.cfg.URL, err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mesh> ",
		HistoryFile:     historyPath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	a.rl = rl
	defer rl.Close()

	if err := a.openInitialSession(); err != nil {
		return err
	}
	fmt.Fprintf(rl.Stdout(), "connected to %s (session %s)\n", a.cfg.URL, a.session)
	fmt.Fprintln(rl.Stdout(), "commands: /new [title], /sessions, /clear, /stop, /export <path>, /state, /quit")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := a.runCommand(line); quit {
				break
			}
			continue
		}
		a.sendLine(line)
	}

	a.saveState()
	if a.watchCancel != nil {
		a.watchCancel()
	}
	return nil
}

// runCommand handles one slash command; true means exit the loop.
func (a *App) runCommand(line string) bool {
	out := a.rl.Stdout()
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/stop":
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
		defer cancel()
		if err := a.store.StopStreaming(ctx, a.session); err != nil {
			fmt.Fprintf(out, "stop failed: %v\n", err)
		}
	case "/new":
		if err := a.openSession(rest); err != nil {
			fmt.Fprintf(out, "new session failed: %v\n", err)
		} else {
			fmt.Fprintf(out, "session %s\n", a.session)
		}
	case "/sessions":
		sessions := a.store.Sessions()
		sort.Slice(sessions, func(i, j int) bool { return sessions[i].CreatedAt.Before(sessions[j].CreatedAt) })
		for _, sess := range sessions {
			marker := " "
			if sess.ID == a.session {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s  %q  messages=%d  tokens=%d\n",
				marker, sess.ID, sess.Title, len(sess.Messages), sess.Usage.TotalTokens)
		}
	case "/clear":
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
		defer cancel()
		if err := a.store.ClearSession(ctx, a.session); err != nil {
			fmt.Fprintf(out, "clear failed: %v\n", err)
		}
	case "/export":
		if rest == "" {
			fmt.Fprintln(out, "usage: /export <path>")
			return false
		}
		if err := a.exportSession(rest); err != nil {
			fmt.Fprintf(out, "export failed: %v\n", err)
		} else {
			fmt.Fprintf(out, "wrote %s\n", rest)
		}
	case "/state":
		fmt.Fprintf(out, "bridge %s: %s\n", a.cfg.Name, a.link.State())
	default:
		fmt.Fprintf(out, "unknown command: %s\n", cmd)
	}
	return false
}

func (a *App) sendLine(line string) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
	defer cancel()
	if _, err := a.store.SendMessage(ctx, a.session, line); err != nil {
		fmt.Fprintf(a.rl.Stdout(), "send failed: %v\n", err)
	}
}

// openInitialSession resumes the session persisted by the previous run,
// falling back to a fresh one when none is recorded or the backend no
// longer knows it.
func (a *App) openInitialSession() error {
	id := strings.TrimSpace(a.state.LastSessionID)
	if id != "" {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
		sess, err := a.store.ResumeSession(ctx, id)
		cancel()
		if err == nil {
			a.track(sess.ID)
			return nil
		}
		a.log.Warn().Err(err).Str("session", id).Msg("resume failed, creating a new session")
	}
	return a.openSession("")
}

// openSession creates a session and points the stream printer at it.
func (a *App) openSession(title string) error {
	if title == "" {
		title = "meshctl"
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
	defer cancel()
	sess, err := a.store.CreateSession(ctx, title, chat.Settings{Model: a.state.Model})
	if err != nil {
		return err
	}
	a.track(sess.ID)
	return nil
}

// track makes one session the active target of the prompt and the
// stream printer.
func (a *App) track(sessionID string) {
	a.session = sessionID
	a.state.LastSessionID = sessionID
	if a.watchCancel != nil {
		a.watchCancel()
	}
	updates, cancelWatch := a.store.Watch(sessionID)
	a.watchCancel = cancelWatch
	go a.printUpdates(updates)
}

// printUpdates echoes assistant output as it streams. Snapshots carry
// the whole content so far, so only the unseen suffix is written.
func (a *App) printUpdates(updates <-chan chat.Message) {
	printed := make(map[string]int)
	for msg := range updates {
		if msg.Role != chat.RoleAssistant {
			continue
		}
		out := a.rl.Stdout()
		seen := printed[msg.ID]
		if len(msg.Content) > seen {
			fmt.Fprint(out, msg.Content[seen:])
			printed[msg.ID] = len(msg.Content)
		}
		if !msg.IsStreaming {
			fmt.Fprintln(out)
			delete(printed, msg.ID)
			a.rl.Refresh()
		}
	}
}

func (a *App) exportSession(path string) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.RequestTimeout)
	defer cancel()
	sess, err := a.store.ExportSession(ctx, a.session)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func (a *App) loadState() {
	if _, err := toml.DecodeFile(a.statePath, &a.state); err != nil && !os.IsNotExist(err) {
		a.log.Warn().Err(err).Str("path", a.statePath).Msg("client state unreadable")
	}
}

func (a *App) saveState() {
	buf := strings.Builder{}
	if err := toml.NewEncoder(&buf).Encode(a.state); err != nil {
		a.log.Warn().Err(err).Msg("client state encode failed")
		return
	}
	if err := os.WriteFile(a.statePath, []byte(buf.String()), 0o644); err != nil {
		a.log.Warn().Err(err).Str("path", a.statePath).Msg("client state write failed")
	}
}

func historyPath() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		dir = os.TempDir()
	}
	return dir + string(os.PathSeparator) + ".meshctl_history"
}
