package scheduler

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// isTerminal reports whether stdout is a terminal, so the live status board
// only overwrites previous output when something is actually watching.
var isTerminal = func() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
	return err == nil
}()

// statusBoard renders one line per worker, redrawn in place on a terminal.
// Non-terminal output (redirected to a file, piped to another process)
// prints nothing; the build log is the record of what happened instead.
type statusBoard struct {
	mu         sync.Mutex
	lines      []string
	lastRedraw time.Time
}

func newStatusBoard(workers int) *statusBoard {
	return &statusBoard{lines: make([]string, workers)}
}

// update sets worker's status line and redraws the board, throttled to
// avoid slowing the run down with excessive terminal output.
func (b *statusBoard) update(worker int, line string) {
	if b == nil || !isTerminal {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if diff := len(b.lines[worker]) - len(line); diff > 0 {
		line += strings.Repeat(" ", diff) // overwrite stale characters
	}
	b.lines[worker] = line
	if time.Since(b.lastRedraw) < 100*time.Millisecond {
		return
	}
	b.redrawLocked()
}

func (b *statusBoard) redrawLocked() {
	b.lastRedraw = time.Now()
	for _, line := range b.lines {
		fmt.Println(line)
	}
	fmt.Printf("\033[%dA", len(b.lines)) // restore cursor position
}
