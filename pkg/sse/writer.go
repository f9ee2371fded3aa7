package sse

import (
	"bufio"
	"io"
	"strings"
)

// Writer emits SSE events to a destination stream, flushing after every
// event so clients observe fragments as they are produced.
type Writer struct {
	dest io.Writer

	// flush is non-nil when dest supports explicit flushing.
	flush func() error
}

// NewWriter returns a Writer over dest. *bufio.Writer destinations (as
// handed out by fasthttp body stream writers) are flushed per event.
func NewWriter(dest io.Writer) *Writer {
	w := &Writer{dest: dest}

	if bw, ok := dest.(*bufio.Writer); ok {
		w.flush = bw.Flush
	}

	return w
}

// Write emits one event. Empty fields are omitted. Data spanning multiple
// lines is split into one "data:" line each, per the SSE spec.
func (w *Writer) Write(ev *Event) error {
	var b strings.Builder

	if ev.ID != "" {
		b.WriteString("id: ")
		b.WriteString(ev.ID)
		b.WriteString("\n")
	}
	if ev.Type != "" {
		b.WriteString("event: ")
		b.WriteString(ev.Type)
		b.WriteString("\n")
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if _, err := io.WriteString(w.dest, b.String()); err != nil {
		return err
	}

	if w.flush != nil {
		return w.flush()
	}

	return nil
}

// Comment emits an SSE comment line, useful as a connection prelude.
func (w *Writer) Comment(text string) error {
	if _, err := io.WriteString(w.dest, ": "+text+"\n\n"); err != nil {
		return err
	}

	if w.flush != nil {
		return w.flush()
	}

	return nil
}
