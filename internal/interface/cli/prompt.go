package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrInterrupted is returned when the user presses Ctrl-C at the prompt.
var ErrInterrupted = errors.New("prompt interrupted")

// ConsentPrompt asks the user to accept camera monitoring. On a terminal it
// reads a single key; otherwise it reads a line.
type ConsentPrompt struct {
	in  io.Reader
	out io.Writer
	fd  int
}

// NewConsentPrompt creates a prompt reading from in. A terminal is detected
// when in is an *os.File attached to a tty.
func NewConsentPrompt(in io.Reader, out io.Writer) *ConsentPrompt {
	fd := -1
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd = int(f.Fd())
	}
	return &ConsentPrompt{in: in, out: out, fd: fd}
}

// IsTerminal reports whether single-key input is used.
func (p *ConsentPrompt) IsTerminal() bool {
	return p.fd >= 0
}

// Ask prints notice and waits for an answer. Only an explicit yes accepts.
// The blocked read is abandoned, not interrupted, when ctx ends.
func (p *ConsentPrompt) Ask(ctx context.Context, notice string) (bool, error) {
	fmt.Fprintf(p.out, "%s\nStart camera monitoring? [y/N] ", notice)

	type answer struct {
		ok  bool
		err error
	}
	ch := make(chan answer, 1)

	restore := func() {}
	if p.IsTerminal() {
		state, err := term.MakeRaw(p.fd)
		if err != nil {
			return false, fmt.Errorf("prompt: %w", err)
		}
		restore = func() { _ = term.Restore(p.fd, state) }
	}

	go func() {
		ok, err := p.read()
		ch <- answer{ok, err}
	}()

	select {
	case <-ctx.Done():
		restore()
		fmt.Fprintln(p.out)
		return false, ctx.Err()
	case a := <-ch:
		restore()
		fmt.Fprintln(p.out)
		return a.ok, a.err
	}
}

func (p *ConsentPrompt) read() (bool, error) {
	if p.IsTerminal() {
		var b [1]byte
		if _, err := p.in.Read(b[:]); err != nil {
			return false, err
		}
		if b[0] == 3 {
			return false, ErrInterrupted
		}
		return parseAnswer(string(b[:])), nil
	}

	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	return parseAnswer(line), nil
}

func parseAnswer(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// TerminalWidth returns the width of f when it is a terminal, else 0.
func TerminalWidth(f *os.File) int {
	if !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return w
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
