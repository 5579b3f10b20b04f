package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ProgressReporter reports progress of bulk record operations.
type ProgressReporter interface {
	Start(total int64)
	Add(n int64)
	Finish()
	Error(err error)
}

// SimpleProgress renders a single-line bar to a terminal.
type SimpleProgress struct {
	mu      sync.Mutex
	total   int64
	done    int64
	started time.Time
	writer  io.Writer
}

// NewProgressReporter creates a progress reporter writing to w. A nil w
// discards output.
func NewProgressReporter(w io.Writer) ProgressReporter {
	if w == nil {
		w = io.Discard
	}
	return &SimpleProgress{writer: w}
}

// Start resets the reporter for total records. A zero total renders only
// the running count.
func (p *SimpleProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.done = 0
	p.started = time.Now()
	p.render()
}

// Add records n more processed records.
func (p *SimpleProgress) Add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += n
	p.render()
}

// Finish ends the line.
func (p *SimpleProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.total > 0 {
		p.done = p.total
	}
	p.render()
	fmt.Fprintln(p.writer)
}

// Error reports a failure on its own line.
func (p *SimpleProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.writer, "\n✗ Error: %v\n", err)
}

func (p *SimpleProgress) render() {
	rate := 0.0
	if elapsed := time.Since(p.started).Seconds(); elapsed > 0 {
		rate = float64(p.done) / elapsed
	}

	if p.total <= 0 {
		fmt.Fprintf(p.writer, "\rProcessed: %d records %.1f records/s", p.done, rate)
		return
	}

	percent := float64(p.done) / float64(p.total) * 100
	if percent > 100 {
		percent = 100
	}
	const barWidth = 40
	filled := int(float64(barWidth) * percent / 100)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	fmt.Fprintf(p.writer, "\rProgress: [%s] %.1f%% (%d/%d) %.1f records/s",
		bar, percent, p.done, p.total, rate)
}
