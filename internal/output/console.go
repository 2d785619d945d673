package output

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/coderunner/loadtest/internal/session"
)

// Console prints one status line per finished execution. It is safe for
// concurrent use.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	ok   *color.Color
	fail *color.Color
	dim  *color.Color
}

// NewConsole creates a Console writing to w. With colour disabled the lines
// are plain text.
func NewConsole(w io.Writer, useColor bool) *Console {
	c := &Console{
		w:    w,
		ok:   color.New(color.FgGreen),
		fail: color.New(color.FgRed),
		dim:  color.New(color.Faint),
	}
	if !useColor {
		c.ok.DisableColor()
		c.fail.DisableColor()
		c.dim.DisableColor()
	} else {
		c.ok.EnableColor()
		c.fail.EnableColor()
		c.dim.EnableColor()
	}
	return c
}

// Result prints "[user-01] ✓ python/hello_world - 123ms".
func (c *Console) Result(res session.ExecutionResult) {
	mark := c.ok.Sprint("✓")
	if !res.Success {
		mark = c.fail.Sprint("✗")
	}
	line := fmt.Sprintf("  [%s] %s %s/%s - %.0fms", res.SessionName, mark, res.Language, res.ProgramName, res.ExecutionTimeMs)
	if !res.Success && res.Error != "" {
		line += " " + c.dim.Sprintf("(%s)", res.Error)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}

// Step prints a numbered phase line such as "[2/4] Connecting 20 sessions...".
func (c *Console) Step(n, total int, format string, args ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "[%d/%d] %s\n", n, total, fmt.Sprintf(format, args...))
}

// Saved prints where the reports were written.
func (c *Console) Saved(p Paths) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "\n  JSON Report: %s\n", p.JSON)
	fmt.Fprintf(c.w, "  HTML Report: %s\n", p.HTML)
}
