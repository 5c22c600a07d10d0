package controller

import (
	"context"

	"scanstation/internal/logging"
	"scanstation/internal/services"
	"scanstation/internal/workflow"
)

// reapplyPolicy tracks crop-on-success activation. Persisted parameters arm
// it at start; the first capture-succeeded afterwards activates it without
// cropping. An explicit crop edit activates it immediately.
type reapplyPolicy struct {
	armed  bool
	active bool
}

func (p *reapplyPolicy) arm() {
	if !p.active {
		p.armed = true
	}
}

func (p *reapplyPolicy) activate() {
	p.armed = false
	p.active = true
}

// observe records a capture-succeeded event and reports whether crops should
// be reapplied for it.
func (p *reapplyPolicy) observe() bool {
	if p.active {
		return true
	}
	if p.armed {
		p.activate()
	}
	return false
}

func (c *Controller) reapplyCrops(ctx context.Context, ev workflow.Event) {
	c.mu.Lock()
	wasArmed := c.policy.armed
	apply := c.policy.observe()
	c.mu.Unlock()

	if wasArmed && !apply {
		c.logger.Debug("crop reapplication active",
			logging.String(logging.FieldEventType, "crop_reapply_activated"),
		)
	}
	if !apply || ev.Retake {
		return
	}
	for _, page := range ev.Pages {
		target := page.Sequence - c.cropOffset
		if target < 1 {
			continue
		}
		rect, ok := c.crops.Get(workflow.ParityOf(target))
		if !ok {
			continue
		}
		if err := c.device.CropPage(ctx, target, rect); err != nil {
			c.cropFailed(target, err)
		}
	}
}

func (c *Controller) cropFailed(sequence int, err error) {
	c.recordError(err)
	logging.WarnWithContext(c.logger, "page crop failed", "crop_page_failed",
		logging.Sequence(sequence),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, services.Hint(err)),
		logging.String(logging.FieldImpact, "page keeps its uncropped image"),
	)
}
