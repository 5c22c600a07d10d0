package workflow_test

import (
	"errors"
	"testing"

	"scanstation/internal/services"
	"scanstation/internal/workflow"
)

func TestSaveSettingsValidates(t *testing.T) {
	s, err := workflow.Create(t.TempDir(), "settings")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err = s.SaveSettings(workflow.DeviceSettings{ISO: 7, ShutterSpeed: "fast", Zoom: 2})
	var verr *workflow.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := verr.Fields["iso"]; !ok {
		t.Fatalf("expected iso field error, got %v", verr.Fields)
	}
	if _, ok := verr.Fields["shutter_speed"]; !ok {
		t.Fatalf("expected shutter_speed field error, got %v", verr.Fields)
	}
	if _, ok := verr.Fields["zoom"]; ok {
		t.Fatal("zoom should be valid")
	}
	if !errors.Is(err, services.ErrValidation) {
		t.Fatal("expected validation marker")
	}

	flip := true
	want := workflow.DeviceSettings{ISO: 200, ShutterSpeed: "1/125", Zoom: 1.5, FlipTargetPages: &flip}
	if err := s.SaveSettings(want); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	got, err := s.Settings()
	if err != nil {
		t.Fatalf("Settings failed: %v", err)
	}
	if got.ISO != 200 || got.ShutterSpeed != "1/125" || got.Zoom != 1.5 || got.FlipTargetPages == nil || !*got.FlipTargetPages {
		t.Fatalf("unexpected settings: %+v", got)
	}
	if got.ParallelCapture != nil {
		t.Fatal("expected parallel capture unset")
	}
}
