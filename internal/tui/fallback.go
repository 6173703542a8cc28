package tui

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/npratt/hopctl/internal/events"
)

// interactive reports whether stdin and stdout are a terminal large
// enough for the full layout.
func interactive() bool {
	out, in := int(os.Stdout.Fd()), int(os.Stdin.Fd())
	if !term.IsTerminal(out) || !term.IsTerminal(in) {
		return false
	}
	width, height, err := term.GetSize(out)
	if err != nil {
		return false
	}
	return width >= minWidth && height >= minHeight
}

// runSimple prints status changes and events as plain lines until the
// controller stops or an interrupt arrives.
func (t *TUI) runSimple() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	t.printLines(os.Stdout, sigChan, time.Now)
	return nil
}

// printLines writes one line per status change and per activity event.
// It returns when the controller stops or quit delivers.
func (t *TUI) printLines(w io.Writer, quit <-chan os.Signal, now func() time.Time) {
	var last string
	printStatus := func() {
		msg := t.ctrl.Snapshot().Message
		if msg == last {
			return
		}
		last = msg
		fmt.Fprintf(w, "[%s] %s\n", now().Format("15:04:05"), msg)
	}
	printStatus()

	eventChan := t.eventChan
	for {
		select {
		case <-quit:
			if t.onQuit != nil {
				t.onQuit()
			}
			return
		case <-t.ctrl.Done():
			printStatus()
			return
		case <-t.ctrl.Updates():
			printStatus()
		case event, ok := <-eventChan:
			if !ok {
				eventChan = nil
				continue
			}
			if event.Type() == events.EventStatus {
				continue
			}
			if text := events.FormatWithTimestamp(event); text != "" {
				fmt.Fprintln(w, text)
			}
		}
	}
}
