package workflow

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Parity classifies a page by its sequence number.
type Parity string

const (
	ParityOdd  Parity = "odd"
	ParityEven Parity = "even"
)

// ParityOf returns the parity of a sequence number.
func ParityOf(sequence int) Parity {
	if sequence%2 == 0 {
		return ParityEven
	}
	return ParityOdd
}

// ParseParity accepts "odd" or "even" in any case.
func ParseParity(value string) (Parity, error) {
	switch Parity(strings.ToLower(strings.TrimSpace(value))) {
	case ParityOdd:
		return ParityOdd, nil
	case ParityEven:
		return ParityEven, nil
	default:
		return "", fmt.Errorf("parity must be odd or even, got %q", value)
	}
}

// Page is one captured image in a session.
type Page struct {
	Sequence   int       `json:"sequence"`
	Path       string    `json:"path"`
	CapturedAt time.Time `json:"captured_at"`
}

// Parity reports whether the page is odd or even.
func (p Page) Parity() Parity {
	return ParityOf(p.Sequence)
}

// PageFileName returns the raw file name for a sequence number.
func PageFileName(sequence int, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%03d.%s", sequence, ext)
}

// parseSequence extracts the sequence number from a raw file name. Files whose
// stem is not a positive integer are not pages.
func parseSequence(name string) (int, bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if stem == "" {
		return 0, false
	}
	seq, err := strconv.Atoi(stem)
	if err != nil || seq < 1 {
		return 0, false
	}
	return seq, true
}

// NextSequence returns the sequence number the next image should use. With a
// target parity the result is the smallest number of that parity greater than
// last; without one it is last+1.
func NextSequence(last int, target Parity) int {
	if last < 0 {
		last = 0
	}
	next := last + 1
	if target != "" && ParityOf(next) != target {
		next++
	}
	return next
}
