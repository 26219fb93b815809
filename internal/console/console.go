// Package console renders the annotated per-node output stream.
//
// Every emitted line is "<label> <text>", where label is the node prefix
// wrapped in bold+color escapes and followed by a colon. Writes are
// serialized so lines from the multiplexer and the supervisor never tear.
package console

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"
)

const (
	Reset   = 0
	Bold    = 1
	Inverse = 7
)

// ColorFor returns the foreground color code for node n, cycling 31..36.
func ColorFor(n int) int {
	if n < 0 {
		n = -n
	}
	return n%6 + 31
}

func sgr(code int) string {
	return "\x1b[" + strconv.Itoa(code) + "m"
}

// Mode returns the escape prefix for a color: bold followed by the color.
func Mode(code int) string {
	return sgr(Bold) + sgr(code)
}

// Colorize wraps text in Mode(code) and a trailing Mode(Reset).
func Colorize(code int, text string) string {
	return Mode(code) + text + Mode(Reset)
}

// Label renders a node prefix as "<bold><color>PREFIX<reset>:".
func Label(n int, prefix string) string {
	return Colorize(ColorFor(n), prefix) + ":"
}

// Console is a line-oriented writer shared by every component that
// reports into the aggregate stream.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
}

func New(out io.Writer, noColor bool) *Console {
	if out == nil {
		out = os.Stdout
	}
	return &Console{out: out, noColor: noColor}
}

// Detect resolves the color mode for f: "always", "never" or "auto"
// (color only when f is a terminal).
func Detect(f *os.File, mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "always", "on", "true":
		return false
	case "never", "off", "false":
		return true
	default:
		return f == nil || !term.IsTerminal(int(f.Fd()))
	}
}

// Line writes one "<label> <text>" line.
func (c *Console) Line(label, text string) {
	c.write(label + " " + text + "\n")
}

// Linef writes one formatted line under label.
func (c *Console) Linef(label, format string, args ...any) {
	c.Line(label, fmt.Sprintf(format, args...))
}

// Lines writes a contiguous burst of lines under the same label.
func (c *Console) Lines(label string, lines []string) {
	if len(lines) == 0 {
		return
	}
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(label)
		b.WriteByte(' ')
		b.WriteString(line)
		b.WriteByte('\n')
	}
	c.write(b.String())
}

// Exited writes the inverse-video EXITED marker for a node.
func (c *Console) Exited(label string, code int) {
	c.Line(label, Colorize(Inverse, "EXITED")+" "+strconv.Itoa(code))
}

// FailedToStart writes the inverse-video startup failure marker with a
// blank line on each side so it stands out in the stream.
func (c *Console) FailedToStart(label string) {
	c.write("\n" + label + " " + Colorize(Inverse, "failed to start") + "\n\n")
}

// Println writes a bare line with no label.
func (c *Console) Println(text string) {
	c.write(text + "\n")
}

func (c *Console) write(s string) {
	if c.noColor {
		s = ansi.Strip(s)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, s)
}
