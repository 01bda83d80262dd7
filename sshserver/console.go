package sshserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/term"

	"pkt.systems/nbexec/core"
	"pkt.systems/nbexec/internal/eventbus"
	"pkt.systems/nbexec/schema"
	"pkt.systems/pslog"
)

const consoleHelp = `commands:
  :chunk <doc> <chunk> [options]  prepare a chunk console and focus it
  :console [id]                   focus a console (empty leaves chunk consoles)
  :refresh <doc> [path]           replay cached output for a document
  :state                          show coordinator state
  :help                           show this help
  :quit                           close the session
any other line is sent as input to the focused console
`

type consoleSession struct {
	ctx     context.Context
	out     io.Writer
	service core.Service
	signals core.Signals
	theme   consoleTheme
	prompt  string
	active  schema.ConsoleID
	log     pslog.Logger

	terminal  *term.Terminal
	setPrompt func(string)

	mu    sync.Mutex
	width int
}

func newConsoleSession(ctx context.Context, out io.Writer, service core.Service, signals core.Signals, theme consoleTheme, prompt string, log pslog.Logger) *consoleSession {
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	return &consoleSession{
		ctx:     ctx,
		out:     out,
		service: service,
		signals: signals,
		theme:   theme,
		prompt:  prompt,
		log:     log,
	}
}

// bind puts a line-editing terminal over rw.
func (c *consoleSession) bind(rw io.ReadWriter) {
	c.terminal = term.NewTerminal(rw, "")
	c.out = c.terminal
	c.setPrompt = c.terminal.SetPrompt
	c.updatePrompt()
}

// run reads lines until the client quits or ctx ends. Events are printed
// above the prompt as they arrive.
func (c *consoleSession) run(events <-chan eventbus.Event) error {
	if c.terminal == nil {
		return errors.New("console terminal not bound")
	}

	done := make(chan struct{})
	defer close(done)
	if events != nil {
		go func() {
			for {
				select {
				case <-done:
					return
				case <-c.ctx.Done():
					return
				case event, ok := <-events:
					if !ok {
						return
					}
					c.printEvent(event)
				}
			}
		}()
	}

	c.printf("nbexec console %s, :help for commands\n", c.service.NotebookContext(c.ctx))
	for {
		line, err := c.terminal.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if c.handleLine(line) {
			return nil
		}
	}
}

func (c *consoleSession) resize(width, height int) {
	c.mu.Lock()
	c.width = width
	c.mu.Unlock()
	if c.terminal != nil {
		_ = c.terminal.SetSize(width, height)
	}
}

func (c *consoleSession) charWidth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width
}

// handleLine processes one input line and reports whether the session
// should close.
func (c *consoleSession) handleLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, ":") {
		c.sendInput(line)
		return false
	}
	name, args, _ := strings.Cut(strings.TrimPrefix(trimmed, ":"), " ")
	args = strings.TrimSpace(args)
	c.log.Trace("ssh console command", "command", name)
	switch name {
	case "quit", "q", "exit":
		return true
	case "help", "h":
		c.printf("%s", consoleHelp)
	case "state":
		c.printState()
	case "console":
		c.focus(schema.ConsoleID(args))
	case "chunk":
		c.setChunk(args)
	case "refresh":
		c.refresh(args)
	default:
		c.printError(fmt.Sprintf("unknown command :%s", name))
	}
	return false
}

func (c *consoleSession) sendInput(line string) {
	if c.active == "" {
		c.printError("no console focused, use :console <id> or :chunk")
		return
	}
	resp, err := c.service.ConsoleInput(c.ctx, schema.ConsoleInputRequest{ConsoleID: c.active, Text: line + "\n"})
	if err != nil {
		c.printError(err.Error())
		return
	}
	if !resp.Forwarded {
		c.printMeta("input not forwarded, no chunk is executing on " + string(c.active))
	}
}

func (c *consoleSession) focus(id schema.ConsoleID) {
	c.active = id
	c.signals.ActiveConsoleChanged(c.ctx, schema.ActiveConsoleChange{ConsoleID: id})
	c.updatePrompt()
}

func (c *consoleSession) setChunk(args string) {
	doc, rest, _ := strings.Cut(args, " ")
	chunk, options, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if doc == "" || chunk == "" {
		c.printError("usage: :chunk <doc> <chunk> [options]")
		return
	}
	docID := schema.DocID(doc)
	chunkID := schema.ChunkID(chunk)
	options = strings.TrimSpace(options)

	resp, err := c.service.SetChunkConsole(c.ctx, schema.SetChunkConsoleRequest{
		DocID:     docID,
		ChunkID:   chunkID,
		ExecMode:  schema.ExecModeSingle,
		Options:   options,
		CharWidth: c.charWidth(),
	})
	if err != nil {
		c.printError(err.Error())
		return
	}
	c.printMeta("chunk " + string(chunkID) + " options " + formatOptions(resp.Options))
	c.focus(schema.ConsoleID(chunkID))
}

func (c *consoleSession) refresh(args string) {
	docID, docPath, _ := strings.Cut(args, " ")
	if docID == "" {
		c.printError("usage: :refresh <doc> [path]")
		return
	}
	resp, after, err := c.service.RefreshChunkOutput(c.ctx, schema.RefreshChunkOutputRequest{
		DocPath:   strings.TrimSpace(docPath),
		DocID:     schema.DocID(docID),
		RequestID: schema.RequestID(uuid.NewString()),
	})
	if err != nil {
		c.printError(err.Error())
		return
	}
	c.printMeta(fmt.Sprintf("replaying %d chunk(s)", resp.Chunks))
	if after != nil {
		after()
	}
}

func (c *consoleSession) printState() {
	state, err := c.service.State(c.ctx)
	if err != nil {
		c.printError(err.Error())
		return
	}
	connection := string(state.Connection)
	if connection == "" {
		connection = "none"
	}
	c.printMeta(fmt.Sprintf("context %s console %q connection %s", state.ContextID, state.ActiveConsole, connection))
	if state.ChunkID != "" {
		c.printMeta(fmt.Sprintf("chunk %s/%s mode %s", state.DocID, state.ChunkID, state.ExecMode))
	}
}

func (c *consoleSession) printEvent(event eventbus.Event) {
	switch event.Type {
	case eventbus.EventChunkOutput:
		out := event.Output
		prefix := fmt.Sprintf("[%s/%s] ", out.DocID, out.ChunkID)
		text := strings.TrimRight(out.Output.Text, "\n")
		if out.Output.Type != schema.OutputText && out.Output.Type != schema.OutputError {
			text = fmt.Sprintf("<%s %d bytes>", out.Output.Type, len(out.Output.Text))
		}
		color, ok := c.theme.outputColor(out.Output.Type, out.Replay)
		for _, line := range strings.Split(text, "\n") {
			if ok {
				c.printf("%s%s%s%s\n", ansiFgRGB(color), prefix, line, ansiReset)
			} else {
				c.printf("%s%s\n", prefix, line)
			}
		}
	case eventbus.EventChunkFinished:
		fin := event.Finished
		if fin.Type == schema.FinishedReplay {
			c.printMeta(fmt.Sprintf("replay %s finished for %s", fin.RequestID, fin.DocID))
			return
		}
		c.printMeta(fmt.Sprintf("chunk %s/%s finished", fin.DocID, fin.ChunkID))
	}
}

func (c *consoleSession) updatePrompt() {
	if c.setPrompt == nil {
		return
	}
	prompt := c.prompt
	if c.active != "" {
		prompt = "[" + string(c.active) + "] " + prompt
	}
	c.setPrompt(ansiBold + ansiFgRGB(c.theme.PromptFG) + prompt + ansiReset)
}

func (c *consoleSession) printMeta(msg string) {
	c.printf("%s%s%s%s\n", ansiDim, ansiFgRGB(c.theme.MetaFG), msg, ansiReset)
}

func (c *consoleSession) printError(msg string) {
	c.printf("%serror: %s%s\n", ansiFgRGB(c.theme.ErrorFG), msg, ansiReset)
}

func (c *consoleSession) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func formatOptions(options schema.ChunkOptions) string {
	if len(options) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, options[k]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
