package proc

import "sync"

// Source identifies which stream a line arrived on.
type Source string

const (
	SourceStdout Source = "stdout"
	SourceStderr Source = "stderr"
)

// Line is one line of child output tagged with its stream.
type Line struct {
	Text   string `json:"text"`
	Source Source `json:"source"`
}

// LineBuffer accumulates child output lines in arrival order. The two pump
// goroutines are its only writers; the control plane drains it. Ordering
// within a stream matches the order the child produced; ordering across
// streams is arrival order, best effort.
type LineBuffer struct {
	mu    sync.Mutex
	lines []Line
}

func (b *LineBuffer) Append(line Line) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
}

// Drain removes and returns everything buffered so far. It never waits for
// new output; an empty result just means nothing arrived since the last
// drain.
func (b *LineBuffer) Drain() []Line {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.lines
	b.lines = nil
	return out
}

func (b *LineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
