package services_test

import (
	"errors"
	"strings"
	"testing"

	"scanstation/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrDevice, "device", "trigger", "capture failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrDevice) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"device", "trigger", "capture failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestKindMapping(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{services.Wrap(services.ErrDevice, "device", "prepare", "offline", nil), "device"},
		{services.Wrap(services.ErrTimeout, "capture", "trigger", "no answer", nil), "timeout"},
		{services.Wrap(services.ErrValidation, "workflow", "save", "bad iso", nil), "validation"},
		{services.Wrap(services.ErrBusy, "capture", "prepare", "", nil), "busy"},
		{errors.New("plain"), "transient"},
	}
	for _, tc := range cases {
		if got := services.Kind(tc.err); got != tc.want {
			t.Fatalf("Kind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
	if services.Hint(nil) != "" {
		t.Fatal("expected empty hint for nil error")
	}
	if services.Hint(services.ErrDevice) == "" {
		t.Fatal("expected hint for device error")
	}
}
