package controller

import (
	"sort"
	"time"

	"scanstation/internal/workflow"
)

// Throughput returns pages per hour, floored. Zero or negative elapsed time
// reports 0.
func Throughput(shot int, elapsed time.Duration) int {
	if elapsed <= 0 || shot <= 0 {
		return 0
	}
	return int(int64(shot) * int64(time.Hour) / int64(elapsed))
}

// PageSlot is one of the two most recent pages shown side by side.
type PageSlot struct {
	Slot workflow.Parity
	Page workflow.Page
}

// lastPageSlots orders the last two pages by sequence; the lower one fills the
// even (left) slot and the higher one the odd (right) slot.
func lastPageSlots(pages []workflow.Page) []PageSlot {
	if len(pages) > 2 {
		pages = pages[len(pages)-2:]
	}
	sorted := append([]workflow.Page(nil), pages...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })
	slots := make([]PageSlot, 0, len(sorted))
	for i, p := range sorted {
		slot := workflow.ParityEven
		if i == 1 {
			slot = workflow.ParityOdd
		}
		slots = append(slots, PageSlot{Slot: slot, Page: p})
	}
	return slots
}
