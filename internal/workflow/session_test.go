package workflow_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"scanstation/internal/services"
	"scanstation/internal/workflow"
)

func writePage(t *testing.T, s *workflow.Session, seq int) {
	t.Helper()
	path := filepath.Join(s.RawDir(), workflow.PageFileName(seq, "png"))
	if err := os.WriteFile(path, []byte("img"), 0o644); err != nil {
		t.Fatalf("write page %d: %v", seq, err)
	}
}

func TestCreateAndReopenSession(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "book")
	s, err := workflow.Create(dir, "")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if s.ID() == "" {
		t.Fatal("expected generated id")
	}
	if s.Name() != "book" {
		t.Fatalf("expected name from directory, got %q", s.Name())
	}
	if s.Step() != workflow.StepCapture {
		t.Fatalf("expected capture step, got %q", s.Step())
	}
	if err := s.MarkStepDone(); err != nil {
		t.Fatalf("MarkStepDone failed: %v", err)
	}

	reopened, err := workflow.Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if reopened.ID() != s.ID() || !reopened.StepDone() {
		t.Fatalf("metadata not persisted: id=%q done=%v", reopened.ID(), reopened.StepDone())
	}

	if _, err := workflow.Create(dir, "again"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error creating over existing session, got %v", err)
	}
}

func TestOpenMissingSession(t *testing.T) {
	if _, err := workflow.Open(t.TempDir()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPagesSortedNumerically(t *testing.T) {
	s, err := workflow.Create(t.TempDir(), "pages")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	for _, seq := range []int{10, 2, 1, 9} {
		writePage(t, s, seq)
	}
	if err := os.WriteFile(filepath.Join(s.RawDir(), "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	pages, err := s.Pages()
	if err != nil {
		t.Fatalf("Pages failed: %v", err)
	}
	want := []int{1, 2, 9, 10}
	if len(pages) != len(want) {
		t.Fatalf("expected %d pages, got %d", len(want), len(pages))
	}
	for i, seq := range want {
		if pages[i].Sequence != seq {
			t.Fatalf("page %d: got seq %d want %d", i, pages[i].Sequence, seq)
		}
	}
	if pages[0].Parity() != workflow.ParityOdd || pages[1].Parity() != workflow.ParityEven {
		t.Fatal("unexpected parity")
	}

	last, err := s.LastPages(2)
	if err != nil {
		t.Fatalf("LastPages failed: %v", err)
	}
	if len(last) != 2 || last[0].Sequence != 9 || last[1].Sequence != 10 {
		t.Fatalf("unexpected last pages: %+v", last)
	}
	if _, ok, _ := s.Page(9); !ok {
		t.Fatal("expected page 9")
	}
}

func TestSetStepPublishesOnlyOnChange(t *testing.T) {
	s, err := workflow.Create(t.TempDir(), "steps")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	var got []workflow.Event
	unsubscribe := s.Events().Subscribe(func(ev workflow.Event) { got = append(got, ev) })
	defer unsubscribe()

	if err := s.SetStep(workflow.StepCapture); err != nil {
		t.Fatalf("SetStep failed: %v", err)
	}
	if err := s.SetStep(workflow.StepProcess); err != nil {
		t.Fatalf("SetStep failed: %v", err)
	}
	if len(got) != 1 || got[0].Kind != workflow.EventStatusUpdated || got[0].Step != workflow.StepProcess {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestNextSequence(t *testing.T) {
	cases := []struct {
		last   int
		target workflow.Parity
		want   int
	}{
		{0, workflow.ParityOdd, 1},
		{0, workflow.ParityEven, 2},
		{2, workflow.ParityOdd, 3},
		{2, workflow.ParityEven, 4},
		{3, workflow.ParityOdd, 5},
		{3, workflow.ParityEven, 4},
		{5, "", 6},
	}
	for _, tc := range cases {
		if got := workflow.NextSequence(tc.last, tc.target); got != tc.want {
			t.Fatalf("NextSequence(%d, %q) = %d, want %d", tc.last, tc.target, got, tc.want)
		}
	}
}

func TestParseParity(t *testing.T) {
	if p, err := workflow.ParseParity(" EVEN "); err != nil || p != workflow.ParityEven {
		t.Fatalf("unexpected parse: %q %v", p, err)
	}
	if _, err := workflow.ParseParity("left"); err == nil {
		t.Fatal("expected error")
	}
}
