package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mossy-p/meshcall/internal/call"
)

// commandTimeout bounds a single command. Commands only wait for the
// session loop, never for media or the network.
const commandTimeout = 5 * time.Second

// Controller is the part of a call session driven from the prompt.
type Controller interface {
	InitializeMediaAndSignaling(ctx context.Context) (call.Snapshot, error)
	Invite(ctx context.Context) (call.Snapshot, error)
	Accept(ctx context.Context) (call.Snapshot, error)
	Decline(ctx context.Context) (call.Snapshot, error)
	Cleanup(ctx context.Context) (call.Snapshot, error)
	StartPreview(ctx context.Context) (call.Snapshot, error)
	StopPreview(ctx context.Context) (call.Snapshot, error)
	Snapshot(ctx context.Context) (call.Snapshot, error)
}

type command struct {
	name string
	help string
	run  func(Controller, context.Context) (call.Snapshot, error)
}

var commands = []command{
	{"start", "acquire media and join the room's signaling", Controller.InitializeMediaAndSignaling},
	{"preview", "show the local camera", Controller.StartPreview},
	{"unpreview", "stop the local preview", Controller.StopPreview},
	{"invite", "call everyone in the room", Controller.Invite},
	{"accept", "answer the pending call", Controller.Accept},
	{"decline", "reject the pending call", Controller.Decline},
	{"hangup", "leave the call and release media", Controller.Cleanup},
	{"status", "show the session state", Controller.Snapshot},
}

var aliases = map[string]string{
	"s":     "status",
	"i":     "invite",
	"a":     "accept",
	"d":     "decline",
	"h":     "hangup",
	"leave": "hangup",
}

func lookup(name string) (command, bool) {
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// REPL reads commands line by line and applies them to a session.
type REPL struct {
	Room    string
	LocalID string
	Session Controller
	Console *Console
}

// Run serves commands from in until "quit", EOF or ctx ends.
func (r *REPL) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
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
		scanErr <- scanner.Err()
	}()

	r.Console.Info("%s joined room %s as %s. Type 'help' for commands.", TitleStyle.Render("meshcall"), r.Room, r.LocalID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := r.exec(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func (r *REPL) exec(ctx context.Context, line string) (quit bool) {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		r.Console.Info("%s", Help())
		return false
	}

	cmd, ok := lookup(fields[0])
	if !ok {
		r.Console.Fail(fmt.Errorf("unknown command %q, type 'help'", fields[0]))
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	snap, err := cmd.run(r.Session, cctx)
	switch {
	case errors.Is(err, call.ErrInvalidState):
		r.Console.Fail(fmt.Errorf("cannot %s while %s", cmd.name, snap.Status))
	case errors.Is(err, call.ErrNotReady):
		r.Console.Fail(errors.New("not connected to the room yet, try 'start'"))
	case errors.Is(err, call.ErrClosed):
		r.Console.Fail(err)
		return true
	case err != nil:
		r.Console.Fail(err)
	case cmd.name == "status":
		r.Console.Info("%s", FormatSnapshot(r.Room, r.LocalID, snap))
	}
	return false
}

// Help lists the prompt commands.
func Help() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("commands"))
	for _, c := range commands {
		fmt.Fprintf(&b, "\n  %-10s %s", c.name, MutedStyle.Render(c.help))
	}
	fmt.Fprintf(&b, "\n  %-10s %s", "quit", MutedStyle.Render("leave and exit"))
	return b.String()
}
