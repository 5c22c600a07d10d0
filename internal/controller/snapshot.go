package controller

import (
	"scanstation/internal/cropstore"
	"scanstation/internal/services"
	"scanstation/internal/shortcuts"
	"scanstation/internal/workflow"
)

// Overlay names the dialog shown over the capture screen.
type Overlay string

const (
	OverlayNone     Overlay = ""
	OverlayConfig   Overlay = "config"
	OverlayCrop     Overlay = "crop"
	OverlayLightbox Overlay = "lightbox"
)

// ShortcutLabels are the display names of the bound keys.
type ShortcutLabels struct {
	Capture []string
	Retake  string
	Finish  string
}

// Snapshot is the read-only projection handed to the Presentation Layer.
type Snapshot struct {
	SessionID        string
	SessionName      string
	State            string
	Waiting          bool
	WaitMessage      string
	PageCount        int
	PagesShot        int
	Speed            int
	LastPages        []PageSlot
	ValidationErrors map[string]string
	Overlay          Overlay
	CropTarget       workflow.Parity
	LightboxPage     int
	CropParams       cropstore.Params
	CropOnSuccess    bool
	Shortcuts        ShortcutLabels
	LastError        string
	ErrorKind        string
	ErrorHint        string
	Finished         bool
}

// Snapshot computes the current projection. Page data is read from the session
// on every call.
func (c *Controller) Snapshot() Snapshot {
	status := c.machine.Status()

	c.mu.Lock()
	snap := Snapshot{
		SessionID:     c.session.ID(),
		SessionName:   c.session.Name(),
		State:         status.State.String(),
		Waiting:       status.Waiting,
		WaitMessage:   status.Message,
		Overlay:       c.overlay,
		CropTarget:    c.cropTarget,
		LightboxPage:  c.lightboxPage,
		CropOnSuccess: c.policy.active,
		Finished:      c.tornDown,
	}
	if len(c.validationErrors) > 0 {
		snap.ValidationErrors = make(map[string]string, len(c.validationErrors))
		for k, v := range c.validationErrors {
			snap.ValidationErrors[k] = v
		}
	}
	lastErr := c.lastErr
	initial := c.initialPageCount
	start := c.captureStart
	started := c.started
	c.mu.Unlock()

	if lastErr != nil {
		snap.LastError = lastErr.Error()
		snap.ErrorKind = services.Kind(lastErr)
		snap.ErrorHint = services.Hint(lastErr)
	}

	snap.CropParams = c.crops.Params()
	snap.Shortcuts = ShortcutLabels{
		Capture: shortcuts.Labels(c.keys.Capture),
		Retake:  shortcuts.Label(c.keys.Retake),
		Finish:  shortcuts.Label(c.keys.Finish),
	}

	pages, err := c.session.Pages()
	if err == nil {
		snap.PageCount = len(pages)
		snap.LastPages = lastPageSlots(pages)
		if started {
			snap.PagesShot = max(0, len(pages)-initial)
			snap.Speed = Throughput(snap.PagesShot, c.now().Sub(start))
		}
	}
	return snap
}
