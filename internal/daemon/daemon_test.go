package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"scanstation/internal/api"
	"scanstation/internal/config"
	"scanstation/internal/cropstore"
	"scanstation/internal/device"
	"scanstation/internal/services"
	"scanstation/internal/testsupport"
	"scanstation/internal/workflow"
)

type fixture struct {
	cfg     *config.Config
	session *workflow.Session
	daemon  *Daemon
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenKV(t, cfg)
	session := testsupport.NewSession(t, cfg, "book")
	d, err := New(cfg, store, session, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{cfg: cfg, session: session, daemon: d}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.daemon.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(f.daemon.Stop)
	f.waitFor(t, "ready", func(s api.CaptureState) bool { return s.State == "ready" && !s.Waiting })
}

func (f *fixture) waitFor(t *testing.T, what string, cond func(api.CaptureState) bool) api.CaptureState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := f.daemon.Snapshot()
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		state := api.FromSnapshot(snap)
		if cond(state) {
			return state
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last state %+v", what, state)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (f *fixture) url(path string) string {
	return "http://" + f.daemon.APIAddress() + path
}

func do(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestCommandsBeforeStartReportNotRunning(t *testing.T) {
	f := newFixture(t)
	if _, err := f.daemon.Snapshot(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Snapshot err = %v, want ErrNotRunning", err)
	}
	if _, err := f.daemon.Trigger(context.Background(), false); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Trigger err = %v, want ErrNotRunning", err)
	}
	if f.daemon.Done() != nil {
		t.Fatal("Done should be nil before Start")
	}
	if f.daemon.APIAddress() != "" {
		t.Fatal("api should not be listening before Start")
	}
}

func TestSessionLockIsExclusive(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	other, err := New(f.cfg, testsupport.MustOpenKV(t, f.cfg), f.session, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = other.Start(context.Background())
	if !errors.Is(err, services.ErrBusy) {
		t.Fatalf("second Start err = %v, want ErrBusy", err)
	}
	status := f.daemon.Status()
	if !status.Running || len(status.Devices) != 2 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestCaptureOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	resp := do(t, http.MethodPost, f.url("/api/capture/trigger"), "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("trigger status = %d", resp.StatusCode)
	}
	var trig api.TriggerResponse
	decodeBody(t, resp, &trig)
	if !trig.Forwarded {
		t.Fatal("trigger was not forwarded")
	}

	state := f.waitFor(t, "two pages", func(s api.CaptureState) bool { return s.PageCount == 2 && s.State == "ready" })
	if state.PagesShot != 2 || len(state.LastPages) != 2 {
		t.Fatalf("unexpected state %+v", state)
	}
	if state.LastPages[0].Slot != "even" || state.LastPages[0].Sequence != 1 {
		t.Fatalf("left slot = %+v", state.LastPages[0])
	}

	resp = do(t, http.MethodGet, f.url("/api/capture"), "", nil)
	var got api.CaptureState
	decodeBody(t, resp, &got)
	if got.SessionName != "book" || got.PageCount != 2 {
		t.Fatalf("GET /api/capture = %+v", got)
	}
	if got.Shortcuts.Retake != "R" {
		t.Fatalf("retake label = %q", got.Shortcuts.Retake)
	}

	resp = do(t, http.MethodGet, f.url("/api/pages/2/thumb?width=150"), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("thumb status = %d", resp.StatusCode)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode thumb: %v", err)
	}
	if img.Bounds().Dx() != 150 {
		t.Fatalf("thumb width = %d", img.Bounds().Dx())
	}

	resp = do(t, http.MethodGet, f.url("/api/pages/9/raw"), "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing page status = %d", resp.StatusCode)
	}
	var apiErr api.ErrorResponse
	decodeBody(t, resp, &apiErr)
	if apiErr.Kind != "not_found" {
		t.Fatalf("error kind = %q", apiErr.Kind)
	}
}

func TestKeyPressOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	resp := do(t, http.MethodPost, f.url("/api/keys/space"), "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("key status = %d", resp.StatusCode)
	}
	f.waitFor(t, "capture", func(s api.CaptureState) bool { return s.PageCount == 2 && s.State == "ready" })

	resp = do(t, http.MethodPost, f.url("/api/keys/z"), "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unbound key status = %d", resp.StatusCode)
	}
}

func TestSaveConfigValidationOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	resp := do(t, http.MethodPost, f.url("/api/config"), "", api.DeviceSettings{ISO: 3})
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var apiErr api.ErrorResponse
	decodeBody(t, resp, &apiErr)
	if _, ok := apiErr.Fields["iso"]; !ok {
		t.Fatalf("fields = %v", apiErr.Fields)
	}
	state := f.waitFor(t, "config overlay", func(s api.CaptureState) bool { return s.Overlay == "config" })
	if _, ok := state.ValidationErrors["iso"]; !ok {
		t.Fatalf("validation errors = %v", state.ValidationErrors)
	}

	resp = do(t, http.MethodPost, f.url("/api/config"), "", api.DeviceSettings{ISO: 200, ShutterSpeed: "1/125"})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("save status = %d", resp.StatusCode)
	}
	f.waitFor(t, "re-prepared", func(s api.CaptureState) bool { return s.State == "ready" && s.Overlay == "" })

	resp = do(t, http.MethodGet, f.url("/api/config"), "", nil)
	var settings api.DeviceSettings
	decodeBody(t, resp, &settings)
	if settings.ISO != 200 || settings.ShutterSpeed != "1/125" {
		t.Fatalf("settings = %+v", settings)
	}
}

func TestCropAndOverlaysOverHTTP(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	resp := do(t, http.MethodPost, f.url("/api/overlay/crop/even"), "", nil)
	var state api.CaptureState
	decodeBody(t, resp, &state)
	if state.Overlay != "crop" || state.CropTarget != "even" {
		t.Fatalf("overlay state = %+v", state)
	}

	rect := api.Rect{Left: 10, Top: 10, Width: 100, Height: 100, NativeWidth: 600, NativeHeight: 800}
	resp = do(t, http.MethodPut, f.url("/api/crop/even"), "", rect)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("set crop status = %d", resp.StatusCode)
	}
	state = f.waitFor(t, "crop stored", func(s api.CaptureState) bool { return s.Overlay == "" })
	if state.CropParams["even"] != rect || !state.CropOnSuccess {
		t.Fatalf("crop state = %+v", state)
	}

	resp = do(t, http.MethodDelete, f.url("/api/crop"), "", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear crop status = %d", resp.StatusCode)
	}
	f.waitFor(t, "crop cleared", func(s api.CaptureState) bool { return len(s.CropParams) == 0 })

	resp = do(t, http.MethodPut, f.url("/api/crop/sideways"), "", rect)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad parity status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodPost, f.url("/api/overlay/lightbox/4"), "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("lightbox status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodDelete, f.url("/api/overlay"), "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close overlay status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, f.url("/api/capture/trigger"), "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("wrong method status = %d", resp.StatusCode)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t, testsupport.WithAPIToken("secret"))
	f.start(t)

	resp := do(t, http.MethodGet, f.url("/api/devices"), "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, f.url("/api/devices"), "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", resp.StatusCode)
	}
	resp = do(t, http.MethodGet, f.url("/api/devices"), "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("authenticated status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("missing request id header")
	}
	var devices []api.DeviceStatus
	decodeBody(t, resp, &devices)
	if len(devices) != 2 || !devices[0].Connected {
		t.Fatalf("devices = %+v", devices)
	}
}

func TestFinishEndsCapturePhase(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	resp := do(t, http.MethodPost, f.url("/api/capture/finish"), "", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("finish status = %d", resp.StatusCode)
	}
	select {
	case <-f.daemon.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("capture phase did not end")
	}
	deadline := time.Now().Add(5 * time.Second)
	for !f.session.StepDone() {
		if time.Now().After(deadline) {
			t.Fatal("capture step was not marked done")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStopRunsTeardownAndReleasesLock(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	done := f.daemon.Done()

	f.daemon.Stop()
	select {
	case <-done:
	default:
		t.Fatal("Stop did not tear the controller down")
	}
	if f.daemon.Status().Running {
		t.Fatal("daemon still running after Stop")
	}

	other, err := New(f.cfg, testsupport.MustOpenKV(t, f.cfg), f.session, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := other.Start(context.Background()); err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
	other.Stop()
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrNotRunning, http.StatusServiceUnavailable},
		{&workflow.ValidationError{Fields: map[string]string{"iso": "bad"}}, http.StatusUnprocessableEntity},
		{services.Wrap(services.ErrValidation, "x", "y", "", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrNotFound, "x", "y", "", nil), http.StatusNotFound},
		{services.Wrap(services.ErrBusy, "x", "y", "", nil), http.StatusConflict},
		{services.Wrap(services.ErrTimeout, "x", "y", "", nil), http.StatusGatewayTimeout},
		{services.Wrap(services.ErrDevice, "x", "y", "", nil), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Errorf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestUnloadHooksFireOnceInOrder(t *testing.T) {
	hooks := newUnloadHooks()
	var order []string
	hooks.OnUnload(func() { order = append(order, "a") })
	remove := hooks.OnUnload(func() { order = append(order, "b") })
	hooks.OnUnload(func() { order = append(order, "c") })
	remove()
	if hooks.len() != 2 {
		t.Fatalf("len = %d, want 2", hooks.len())
	}

	hooks.fire()
	hooks.fire()
	if got := strings.Join(order, ","); got != "a,c" {
		t.Fatalf("order = %q, want a,c", got)
	}
}

// slowCropDevice answers commands immediately but takes a while to crop, so
// teardown ordering against Close is observable.
type slowCropDevice struct {
	session *workflow.Session

	mu    sync.Mutex
	calls []string
}

func (d *slowCropDevice) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *slowCropDevice) Prepare(_ context.Context, _ bool, done func(error)) { done(nil) }

func (d *slowCropDevice) Trigger(_ context.Context, _ bool, done func(error)) { done(nil) }

func (d *slowCropDevice) Finish(context.Context) { d.record("finish") }

func (d *slowCropDevice) CropPage(context.Context, int, cropstore.Rect) error {
	time.Sleep(50 * time.Millisecond)
	d.record("crop")
	return nil
}

func (d *slowCropDevice) Subscribe(fn func(workflow.Event)) func() {
	return d.session.Events().Subscribe(fn)
}

func (d *slowCropDevice) Devices() []device.Status { return nil }

func (d *slowCropDevice) Start(context.Context) error { return nil }

func (d *slowCropDevice) Close() { d.record("close") }

func (d *slowCropDevice) recorded() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.calls, ",")
}

func TestCancelThenStopFinishesBeforeClosingDevice(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	session := testsupport.NewSession(t, cfg, "book")
	testsupport.WritePages(t, session, 1, 2)
	dev := &slowCropDevice{session: session}
	d, err := New(cfg, testsupport.MustOpenKV(t, cfg), session, nil, WithDevice(dev))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rect := cropstore.Rect{Width: 10, Height: 10, NativeWidth: 100, NativeHeight: 100}
	if err := d.SetCrop(context.Background(), workflow.ParityOdd, rect); err != nil {
		t.Fatalf("SetCrop: %v", err)
	}

	cancel()
	d.Stop()
	if got := dev.recorded(); got != "crop,finish,close" {
		t.Fatalf("device calls when Stop returned = %q, want crop,finish,close", got)
	}
}

func TestUnloadHooksConcurrentFireWaits(t *testing.T) {
	hooks := newUnloadHooks()
	release := make(chan struct{})
	var ran sync.WaitGroup
	ran.Add(1)
	hooks.OnUnload(func() {
		ran.Done()
		<-release
	})

	go hooks.fire()
	ran.Wait()

	returned := make(chan struct{})
	go func() {
		hooks.fire()
		close(returned)
	}()
	select {
	case <-returned:
		t.Fatal("second fire returned while the first was still running hooks")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("second fire never returned")
	}
}
