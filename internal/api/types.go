package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// CaptureState is the read-only projection of a capture session.
type CaptureState struct {
	SessionID        string            `json:"sessionId"`
	SessionName      string            `json:"sessionName"`
	State            string            `json:"state"`
	Waiting          bool              `json:"waiting"`
	WaitMessage      string            `json:"waitMessage,omitempty"`
	PageCount        int               `json:"pageCount"`
	PagesShot        int               `json:"pagesShot"`
	Speed            int               `json:"speed"`
	LastPages        []PageSlot        `json:"lastPages"`
	ValidationErrors map[string]string `json:"validationErrors,omitempty"`
	Overlay          string            `json:"overlay,omitempty"`
	CropTarget       string            `json:"cropTarget,omitempty"`
	LightboxPage     int               `json:"lightboxPage,omitempty"`
	CropParams       map[string]Rect   `json:"cropParams"`
	CropOnSuccess    bool              `json:"cropOnSuccess"`
	Shortcuts        Shortcuts         `json:"shortcuts"`
	LastError        string            `json:"lastError,omitempty"`
	ErrorKind        string            `json:"errorKind,omitempty"`
	ErrorHint        string            `json:"errorHint,omitempty"`
	Finished         bool              `json:"finished"`
}

// PageSlot is one of the two most recent pages, labelled by display slot.
type PageSlot struct {
	Slot       string `json:"slot"`
	Sequence   int    `json:"sequence"`
	Path       string `json:"path"`
	CapturedAt string `json:"capturedAt,omitempty"`
}

// Shortcuts carries display labels of the bound keys.
type Shortcuts struct {
	Capture []string `json:"capture"`
	Retake  string   `json:"retake"`
	Finish  string   `json:"finish"`
}

// Rect is a crop rectangle in the coordinates of its native image.
type Rect struct {
	Left         int `json:"left"`
	Top          int `json:"top"`
	Width        int `json:"width"`
	Height       int `json:"height"`
	NativeWidth  int `json:"nativeWidth"`
	NativeHeight int `json:"nativeHeight"`
}

// CropRequest sets the rectangle for one parity.
type CropRequest struct {
	Parity string `json:"parity"`
	Rect   Rect   `json:"rect"`
}

// DeviceSettings mirrors the per-session camera options.
type DeviceSettings struct {
	ISO             int     `json:"iso"`
	ShutterSpeed    string  `json:"shutterSpeed"`
	Zoom            float64 `json:"zoom"`
	ParallelCapture *bool   `json:"parallelCapture,omitempty"`
	FlipTargetPages *bool   `json:"flipTargetPages,omitempty"`
}

// DeviceStatus describes one camera.
type DeviceStatus struct {
	Name      string `json:"name"`
	Target    string `json:"target,omitempty"`
	Connected bool   `json:"connected"`
}

// SessionSummary lists a session on disk.
type SessionSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Dir       string `json:"dir"`
	Step      string `json:"step"`
	StepDone  bool   `json:"stepDone"`
	PageCount int    `json:"pageCount"`
}

// TriggerResponse reports whether a capture request reached the device.
type TriggerResponse struct {
	Forwarded bool `json:"forwarded"`
}

// ErrorResponse is returned by the HTTP API for failed requests.
type ErrorResponse struct {
	Error  string            `json:"error"`
	Kind   string            `json:"kind,omitempty"`
	Hint   string            `json:"hint,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}
