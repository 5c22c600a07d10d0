// Package keyboard feeds single key presses from a terminal into the
// shortcut keymap while a capture session runs in the foreground.
package keyboard

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode"

	"golang.org/x/term"
)

const (
	ctrlC  = 0x03
	ctrlD  = 0x04
	escape = 0x1b
)

// ErrInterrupted is returned when the operator presses Ctrl-C.
var ErrInterrupted = errors.New("interrupted")

// PressFunc receives a key name; it reports whether the key was bound.
type PressFunc func(key string) bool

// Listen puts in into raw mode and dispatches key presses to press until ctx
// is done, input ends, or Ctrl-C is pressed. The terminal state is restored on
// return. Input that is not a terminal is read as-is.
func Listen(ctx context.Context, in *os.File, press PressFunc) error {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("enable raw terminal mode: %w", err)
		}
		defer func() { _ = term.Restore(fd, state) }()
	}

	result := make(chan error, 1)
	go func() { result <- consume(in, press) }()

	select {
	case <-ctx.Done():
		// The reader goroutine stays blocked until the next byte arrives.
		return nil
	case err := <-result:
		return err
	}
}

func consume(r io.Reader, press PressFunc) error {
	reader := bufio.NewReader(r)
	for {
		ch, _, err := reader.ReadRune()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read key: %w", err)
		}
		switch ch {
		case ctrlC:
			return ErrInterrupted
		case ctrlD:
			return nil
		case escape:
			skipEscapeSequence(reader)
			continue
		}
		key, ok := keyName(ch)
		if !ok {
			continue
		}
		press(key)
	}
}

// skipEscapeSequence drops the remainder of a CSI sequence (arrow keys and
// friends) that is already buffered.
func skipEscapeSequence(reader *bufio.Reader) {
	if reader.Buffered() == 0 {
		return
	}
	next, err := reader.Peek(1)
	if err != nil || next[0] != '[' {
		return
	}
	_, _ = reader.ReadByte()
	for reader.Buffered() > 0 {
		b, err := reader.ReadByte()
		if err != nil || (b >= 0x40 && b <= 0x7e) {
			return
		}
	}
}

func keyName(ch rune) (string, bool) {
	switch {
	case ch == ' ':
		return " ", true
	case ch == '\r' || ch == '\n':
		return "enter", true
	case unicode.IsPrint(ch):
		return string(unicode.ToLower(ch)), true
	default:
		return "", false
	}
}
