package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mossy-p/meshcall/internal/call"
	"github.com/mossy-p/meshcall/internal/callerr"
)

// Console renders session events as terminal lines. It implements
// call.Observer.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

var _ call.Observer = (*Console)(nil)

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

func (c *Console) StatusChanged(status call.Status) {
	banner := status.Banner()
	if banner == "" {
		return
	}
	switch status {
	case call.StatusConnected:
		c.println(LiveStyle.Render(IconLive + " " + banner))
	case call.StatusEnded:
		c.println(EndedStyle.Render(IconEnded + " " + banner))
	default:
		c.println(BannerStyle.Render(IconCall + " " + banner))
	}
}

func (c *Console) InviterChanged(inviter string) {
	if inviter == "" {
		return
	}
	c.println(WarningStyle.Render(fmt.Sprintf("%s %s is calling. Type 'accept' or 'decline'.", IconPeer, inviter)))
}

func (c *Console) ErrorRaised(err *callerr.Error) {
	c.println(FormatError(err))
}

func (c *Console) ReadyChanged(ready bool) {
	if ready {
		c.println(MutedStyle.Render(IconReady + " media and signaling ready"))
	}
}

// Info prints a plain line.
func (c *Console) Info(format string, args ...any) {
	c.println(fmt.Sprintf(format, args...))
}

// Fail prints a command error.
func (c *Console) Fail(err error) {
	c.println(ErrorStyle.Render(IconError + " " + err.Error()))
}

// FormatError renders a session error with a hint for the fatal kinds.
func FormatError(err *callerr.Error) string {
	line := ErrorStyle.Render(IconError + " " + err.Error())
	switch err.Kind {
	case callerr.PermissionDenied:
		line += "\n" + MutedStyle.Render("   allow camera and microphone access, then 'start' again")
	case callerr.DeviceUnavailable:
		line += "\n" + MutedStyle.Render("   check that a camera and microphone are connected")
	case callerr.ChannelUnavailable:
		line += "\n" + MutedStyle.Render("   the signaling server is unreachable")
	}
	return line
}

// FormatSnapshot renders a status block.
func FormatSnapshot(room, local string, s call.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s as %s\n", TitleStyle.Render("room"), room, local)
	fmt.Fprintf(&b, "status:  %s\n", s.Status)
	fmt.Fprintf(&b, "ready:   %t (media %t, preview %t)\n", s.Ready, s.MediaActive, s.Preview)
	if s.Inviter != "" {
		fmt.Fprintf(&b, "inviter: %s\n", s.Inviter)
	}
	if s.Queued > 0 {
		fmt.Fprintf(&b, "queued:  %d\n", s.Queued)
	}
	if len(s.Peers) == 0 {
		b.WriteString("peers:   none")
	} else {
		b.WriteString("peers:")
		for _, p := range s.Peers {
			role := "answerer"
			if p.Initiator {
				role = "initiator"
			}
			fmt.Fprintf(&b, "\n  %s %s %s (%s)", IconPeer, p.ID, p.State, role)
		}
	}
	if s.Err != nil {
		fmt.Fprintf(&b, "\nlast error: %s", s.Err)
	}
	return BoxStyle.Render(b.String())
}
