package device

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"scanstation/internal/logging"
)

// usbMonitor listens for udev netlink events and reports cameras being
// plugged in or removed. Only devices whose vendor id is configured are
// reported.
type usbMonitor struct {
	logger  *slog.Logger
	vendors map[string]struct{}
	handler func(action netlink.KObjAction, vendor, devpath string)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

func newUSBMonitor(vendorIDs []string, logger *slog.Logger, handler func(action netlink.KObjAction, vendor, devpath string)) *usbMonitor {
	vendors := make(map[string]struct{}, len(vendorIDs))
	for _, id := range vendorIDs {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			vendors[id] = struct{}{}
		}
	}
	if len(vendors) == 0 {
		return nil
	}
	return &usbMonitor{
		logger:  logging.NewComponentLogger(logger, "usb-monitor"),
		vendors: vendors,
		handler: handler,
	}
}

// Start begins listening. Failing to open the netlink socket is logged and
// otherwise ignored; capture still works without hotplug warnings.
func (m *usbMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(m.logger, "failed to connect to netlink socket; camera unplug detection disabled", "usb_monitor_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the process may open netlink sockets"),
			logging.String(logging.FieldImpact, "unplugged cameras are only noticed when a capture fails"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit)

	m.logger.Info("usb monitor started",
		logging.String(logging.FieldEventType, "usb_monitor_started"),
		logging.Int("vendors", len(m.vendors)),
	)
	return nil
}

// Stop shuts down the monitor. It is safe on a nil or stopped monitor.
func (m *usbMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false

	m.logger.Info("usb monitor stopped",
		logging.String(logging.FieldEventType, "usb_monitor_stopped"),
	)
}

// Running reports whether the monitor is active.
func (m *usbMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *usbMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, m.buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(m.logger, "netlink monitor error", "usb_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "camera unplug detection may be affected"),
			)
		}
	}
}

// buildMatcher matches whole-device USB add and remove events.
func (m *usbMonitor) buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "usb",
			"DEVTYPE":   "usb_device",
		},
	})
	return rules
}

func (m *usbMonitor) handleEvent(uevent netlink.UEvent) {
	vendor := vendorID(uevent)
	if vendor == "" {
		m.logger.Debug("ignoring usb event without vendor id",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}
	if _, ok := m.vendors[vendor]; !ok {
		return
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		devpath = uevent.KObj
	}
	if m.handler != nil {
		m.handler(uevent.Action, vendor, devpath)
	}
}

// vendorID reads ID_VENDOR_ID, falling back to the kernel PRODUCT variable
// ("vendor/product/bcd", hex without padding).
func vendorID(uevent netlink.UEvent) string {
	if id := strings.ToLower(strings.TrimSpace(uevent.Env["ID_VENDOR_ID"])); id != "" {
		return id
	}
	product := uevent.Env["PRODUCT"]
	if product == "" {
		return ""
	}
	vendor, _, _ := strings.Cut(product, "/")
	vendor = strings.ToLower(strings.TrimSpace(vendor))
	if vendor == "" {
		return ""
	}
	for len(vendor) < 4 {
		vendor = "0" + vendor
	}
	return vendor
}
