package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"

	"scanstation/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := statusKindLabel(kind)
	if message != "" {
		statusText = fmt.Sprintf("[%s] %s", statusText, message)
	} else {
		statusText = fmt.Sprintf("[%s]", statusText)
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// renderCaptureLines summarises a capture state. Speed is omitted until the
// first page of the run has been shot.
func renderCaptureLines(state api.CaptureState, colorize bool) []string {
	lines := renderSectionHeader("Capture "+state.SessionName, colorize)

	kind := statusOK
	message := state.State
	switch {
	case state.Finished:
		kind, message = statusInfo, "finished"
	case state.Waiting:
		kind = statusWarn
		if state.WaitMessage != "" {
			message = state.WaitMessage
		}
	}
	lines = append(lines, renderStatusLine("Devices", kind, message, colorize))
	lines = append(lines, renderStatusLine("Pages", statusInfo, strconv.Itoa(state.PageCount), colorize))
	if state.Speed > 0 {
		lines = append(lines, renderStatusLine("Speed", statusInfo, fmt.Sprintf("%d pages/hour", state.Speed), colorize))
	}
	if state.Overlay != "" {
		overlay := state.Overlay
		switch {
		case state.CropTarget != "":
			overlay += " " + state.CropTarget
		case state.LightboxPage > 0:
			overlay += " page " + strconv.Itoa(state.LightboxPage)
		}
		lines = append(lines, renderStatusLine("Overlay", statusInfo, overlay, colorize))
	}
	crop := "off"
	if state.CropOnSuccess {
		crop = "applied to new pages"
	} else if len(state.CropParams) > 0 {
		crop = "stored"
	}
	lines = append(lines, renderStatusLine("Crop", statusInfo, crop, colorize))
	if state.LastError != "" {
		message := state.LastError
		if state.ErrorHint != "" {
			message += " (" + state.ErrorHint + ")"
		}
		lines = append(lines, renderStatusLine("Last error", statusError, message, colorize))
	}
	for _, field := range sortedKeys(state.ValidationErrors) {
		lines = append(lines, renderStatusLine("Invalid "+field, statusError, state.ValidationErrors[field], colorize))
	}
	keys := append([]string(nil), state.Shortcuts.Capture...)
	lines = append(lines, renderStatusLine("Keys", statusInfo,
		fmt.Sprintf("capture %s, retake %s, finish %s", strings.Join(keys, "/"), state.Shortcuts.Retake, state.Shortcuts.Finish), colorize))
	return lines
}

// renderProgressLine is the one-line summary printed while capturing.
func renderProgressLine(state api.CaptureState) string {
	parts := []string{fmt.Sprintf("%d pages", state.PageCount)}
	if state.Speed > 0 {
		parts = append(parts, fmt.Sprintf("%d pages/hour", state.Speed))
	}
	if state.Waiting && state.WaitMessage != "" {
		parts = append(parts, state.WaitMessage)
	}
	if state.LastError != "" {
		parts = append(parts, "error: "+state.LastError)
	}
	return strings.Join(parts, " | ")
}

func renderLastPages(pages []api.PageSlot) string {
	rows := make([][]string, 0, len(pages))
	for _, page := range pages {
		rows = append(rows, []string{page.Slot, strconv.Itoa(page.Sequence), filepath.Base(page.Path)})
	}
	return renderTable([]column{col("Slot"), numCol("Page"), col("File")}, rows, tableOptions{title: "Last pages"})
}

func renderDevices(devices []api.DeviceStatus) string {
	rows := make([][]string, 0, len(devices))
	for _, device := range devices {
		target := device.Target
		if target == "" {
			target = "-"
		}
		rows = append(rows, []string{device.Name, target, yesNo(device.Connected)})
	}
	return renderTable([]column{col("Device"), col("Target"), col("Connected")}, rows, tableOptions{})
}
