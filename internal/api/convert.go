package api

import (
	"sort"

	"scanstation/internal/controller"
	"scanstation/internal/cropstore"
	"scanstation/internal/device"
	"scanstation/internal/workflow"
)

// FromSnapshot converts the controller projection into its wire form.
func FromSnapshot(s controller.Snapshot) CaptureState {
	state := CaptureState{
		SessionID:     s.SessionID,
		SessionName:   s.SessionName,
		State:         s.State,
		Waiting:       s.Waiting,
		WaitMessage:   s.WaitMessage,
		PageCount:     s.PageCount,
		PagesShot:     s.PagesShot,
		Speed:         s.Speed,
		LastPages:     make([]PageSlot, 0, len(s.LastPages)),
		Overlay:       string(s.Overlay),
		CropTarget:    string(s.CropTarget),
		LightboxPage:  s.LightboxPage,
		CropParams:    make(map[string]Rect, len(s.CropParams)),
		CropOnSuccess: s.CropOnSuccess,
		Shortcuts: Shortcuts{
			Capture: append([]string(nil), s.Shortcuts.Capture...),
			Retake:  s.Shortcuts.Retake,
			Finish:  s.Shortcuts.Finish,
		},
		LastError: s.LastError,
		ErrorKind: s.ErrorKind,
		ErrorHint: s.ErrorHint,
		Finished:  s.Finished,
	}
	for _, slot := range s.LastPages {
		state.LastPages = append(state.LastPages, FromPageSlot(slot))
	}
	for parity, rect := range s.CropParams {
		state.CropParams[string(parity)] = FromRect(rect)
	}
	if len(s.ValidationErrors) > 0 {
		state.ValidationErrors = make(map[string]string, len(s.ValidationErrors))
		for k, v := range s.ValidationErrors {
			state.ValidationErrors[k] = v
		}
	}
	return state
}

// FromPageSlot converts one last-pages entry.
func FromPageSlot(slot controller.PageSlot) PageSlot {
	out := PageSlot{
		Slot:     string(slot.Slot),
		Sequence: slot.Page.Sequence,
		Path:     slot.Page.Path,
	}
	if !slot.Page.CapturedAt.IsZero() {
		out.CapturedAt = slot.Page.CapturedAt.UTC().Format(dateTimeFormat)
	}
	return out
}

// FromRect converts a stored rectangle.
func FromRect(r cropstore.Rect) Rect {
	return Rect(r)
}

// ToRect converts a wire rectangle for the crop store.
func (r Rect) ToRect() cropstore.Rect {
	return cropstore.Rect(r)
}

// FromSettings converts stored device settings.
func FromSettings(s workflow.DeviceSettings) DeviceSettings {
	return DeviceSettings{
		ISO:             s.ISO,
		ShutterSpeed:    s.ShutterSpeed,
		Zoom:            s.Zoom,
		ParallelCapture: s.ParallelCapture,
		FlipTargetPages: s.FlipTargetPages,
	}
}

// ToSettings converts wire settings for persistence.
func (s DeviceSettings) ToSettings() workflow.DeviceSettings {
	return workflow.DeviceSettings{
		ISO:             s.ISO,
		ShutterSpeed:    s.ShutterSpeed,
		Zoom:            s.Zoom,
		ParallelCapture: s.ParallelCapture,
		FlipTargetPages: s.FlipTargetPages,
	}
}

// FromDevices converts device statuses.
func FromDevices(devices []device.Status) []DeviceStatus {
	out := make([]DeviceStatus, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceStatus{Name: d.Name, Target: string(d.Target), Connected: d.Connected})
	}
	return out
}

// FromSession summarises a session on disk.
func FromSession(s *workflow.Session) SessionSummary {
	summary := SessionSummary{
		ID:       s.ID(),
		Name:     s.Name(),
		Dir:      s.Dir(),
		Step:     string(s.Step()),
		StepDone: s.StepDone(),
	}
	if pages, err := s.Pages(); err == nil {
		summary.PageCount = len(pages)
	}
	return summary
}

// SortedParities returns the parities present in params in display order
// (even before odd, matching the left/right layout).
func SortedParities(params map[string]Rect) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
