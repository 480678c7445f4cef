package output

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Notifier is the benign stand-in: a terminal banner plus the bell.
type Notifier struct {
	mu     sync.Mutex
	w      io.Writer
	ready  bool
	active bool
	cycle  int
}

func NewNotifier(w io.Writer) *Notifier {
	return &Notifier{w: w}
}

func (n *Notifier) Initialize(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ready = true
	return nil
}

func (n *Notifier) BeginOutput() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.ready || n.active {
		return
	}
	n.active = true
	n.cycle++
	fmt.Fprintf(n.w, "\a*** FLARE #%d ***\n", n.cycle)
}

func (n *Notifier) EndOutput() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.ready || !n.active {
		return
	}
	n.active = false
	fmt.Fprintln(n.w, "--- dark ---")
}

func (n *Notifier) Release() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = false
}
