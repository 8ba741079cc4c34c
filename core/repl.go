package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"agentchat/artifact"
	"agentchat/awsclient"
	"agentchat/runtime"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
)

// errorMarker prefixes failed turns in the terminal.
const errorMarker = "❌ "

// REPL is an interactive terminal chat on top of the same runner, session
// store and artifact cache as the HTTP server.
type REPL struct {
	server      *Server
	sessionID   string
	agents      []awsclient.AgentSummary
	downloadDir string
	out         io.Writer
}

// NewREPL creates a terminal client writing to out. Downloaded artifacts are
// saved into downloadDir.
func NewREPL(server *Server, downloadDir string, out io.Writer) *REPL {
	session := server.memoryStore.GetOrCreateSession("")
	return &REPL{
		server:      server,
		sessionID:   session.ID,
		downloadDir: downloadDir,
		out:         out,
	}
}

// Run reads lines until /quit, Ctrl+D or Ctrl+C on an empty line.
func (r *REPL) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, cyan("agentchat")+" - type a message, /help for commands")
	fmt.Fprintf(r.out, "Session ID: %s\n\n", r.sessionID)

	homeDir, _ := os.UserHomeDir()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       filepath.Join(homeDir, ".agentchat-history"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "/quit",
		HistorySearchFold: true,
		UniqueEditLine:    true,
		Stdin:             readline.NewCancelableStdin(os.Stdin),
		Stdout:            os.Stdout,
		Stderr:            os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if len(line) == 0 {
				fmt.Fprintln(r.out, "Goodbye!")
				return nil
			}
			continue
		} else if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out, "Goodbye!")
			return nil
		} else if err != nil {
			return err
		}

		if !r.Handle(ctx, line) {
			fmt.Fprintln(r.out, "Goodbye!")
			return nil
		}
	}
}

// Handle processes one input line. It returns false when the user asked to quit.
func (r *REPL) Handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}

	command, arg, _ := strings.Cut(line, " ")
	switch command {
	case "/quit", "/exit":
		return false
	case "/help":
		fmt.Fprintln(r.out, "/agents        list agent endpoints")
		fmt.Fprintln(r.out, "/use <n|id>    select an endpoint")
		fmt.Fprintln(r.out, "/clear         start a new conversation")
		fmt.Fprintln(r.out, "/quit          leave")
	case "/agents":
		r.listAgents(ctx)
	case "/use":
		r.useAgent(strings.TrimSpace(arg))
	case "/clear":
		r.clear()
	default:
		r.turn(ctx, line)
	}
	return true
}

func (r *REPL) session() *ChatSession {
	return r.server.memoryStore.GetOrCreateSession(r.sessionID)
}

func (r *REPL) listAgents(ctx context.Context) {
	backend := r.server.currentBackend()
	if backend == nil {
		fmt.Fprintln(r.out, red(errorMarker+ErrNoBackend.Error()))
		return
	}

	_, _, region := r.session().Target()
	agents, err := backend.ListAgents(ctx, region)
	if err != nil {
		fmt.Fprintln(r.out, red(errorMarker+err.Error()))
		return
	}
	r.agents = agents
	if len(agents) == 0 {
		fmt.Fprintln(r.out, yellow("No agents found in "+region))
		return
	}
	for i, agent := range agents {
		fmt.Fprintf(r.out, "%d. %s %s\n", i+1, agent.Label(), gray(agent.EndpointID))
	}
}

func (r *REPL) useAgent(arg string) {
	if arg == "" {
		fmt.Fprintln(r.out, red(errorMarker+runtime.ErrEmptyEndpoint.Error()))
		return
	}

	endpointID := arg
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(r.agents) {
			fmt.Fprintln(r.out, red(fmt.Sprintf("%sno agent %d, run /agents first", errorMarker, n)))
			return
		}
		endpointID = r.agents[n-1].EndpointID
	}

	r.session().SelectEndpoint(endpointID, "")
	fmt.Fprintln(r.out, green("Using "+endpointID))
}

func (r *REPL) clear() {
	newID, cleared, ok := r.server.memoryStore.ResetSession(r.sessionID)
	r.server.forgetSession(r.sessionID)
	if !ok {
		newID = r.server.memoryStore.GetOrCreateSession("").ID
	}
	r.sessionID = newID
	fmt.Fprintf(r.out, "%s (%d messages cleared)\n", green("New conversation "+newID), cleared)
}

func (r *REPL) turn(ctx context.Context, message string) {
	ctx, cancel := context.WithTimeout(ctx, r.server.config.RequestTimeout)
	defer cancel()

	session, req := r.server.prepareTurn(ChatRequest{Message: message, SessionID: r.sessionID})

	result := r.server.runner.Run(ctx, req, session, func(chunk string) error {
		_, err := fmt.Fprint(r.out, chunk)
		return err
	})
	fmt.Fprintln(r.out)

	if result.Err != nil {
		fmt.Fprintln(r.out, red(errorMarker+strings.TrimPrefix(result.Text, runtime.ErrorPrefix)))
		return
	}
	if result.FellBack {
		fmt.Fprintln(r.out, yellow("Streaming interrupted, full reply:"))
		fmt.Fprintln(r.out, string(markdown.Render(result.Text, 100, 2)))
	}

	r.saveArtifacts(ctx, result.Text, req.Region)
	fmt.Fprintln(r.out)
}

// saveArtifacts downloads every linked object and writes it into downloadDir.
func (r *REPL) saveArtifacts(ctx context.Context, text, region string) {
	for _, rendered := range artifact.Render(ctx, artifact.Scan(text), artifact.FetcherFor(r.server.cache, region)) {
		if rendered.Kind != artifact.ObjectLink {
			continue
		}
		if !rendered.Downloadable() {
			fmt.Fprintf(r.out, "%s %s: %v\n", yellow("⚠"), rendered.Label, rendered.Err)
			continue
		}

		path, err := r.save(rendered.Artifact)
		if err != nil {
			fmt.Fprintln(r.out, red(errorMarker+err.Error()))
			continue
		}
		fmt.Fprintf(r.out, "%s %s -> %s\n", green("⬇"), rendered.Label, path)
	}
}

func (r *REPL) save(item *artifact.Artifact) (string, error) {
	if err := os.MkdirAll(r.downloadDir, 0o755); err != nil {
		return "", fmt.Errorf("create download directory: %w", err)
	}
	path := filepath.Join(r.downloadDir, filepath.Base(item.DisplayName))
	if err := os.WriteFile(path, item.Data, 0o644); err != nil {
		return "", fmt.Errorf("save %s: %w", item.DisplayName, err)
	}
	return path, nil
}
