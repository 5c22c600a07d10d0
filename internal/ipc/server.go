package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"scanstation/internal/api"
	"scanstation/internal/daemon"
	"scanstation/internal/logging"
	"scanstation/internal/workflow"
)

const serviceName = "ScanStation"

// Server exposes capture control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	svc := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName(serviceName, svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the capture session"),
				)
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status()
	resp.Running = status.Running
	resp.SessionDir = status.SessionDir
	resp.LockPath = status.LockFilePath
	resp.DatabasePath = status.DatabasePath
	resp.APIAddress = s.daemon.APIAddress()
	resp.Devices = api.FromDevices(status.Devices)
	if snap, err := s.daemon.Snapshot(); err == nil {
		state := api.FromSnapshot(snap)
		resp.Capture = &state
	}
	return nil
}

func (s *service) Trigger(req TriggerRequest, resp *TriggerResponse) error {
	forwarded, err := s.daemon.Trigger(s.ctx, req.Retake)
	if err != nil {
		return err
	}
	resp.Forwarded = forwarded
	s.logger.Debug("capture requested via IPC", logging.Bool("retake", req.Retake), logging.Bool("forwarded", forwarded))
	return nil
}

func (s *service) Finish(_ FinishRequest, resp *FinishResponse) error {
	if err := s.daemon.Finish(s.ctx); err != nil {
		return err
	}
	resp.Finishing = true
	s.logger.Info("capture finish requested via IPC",
		logging.String(logging.FieldEventType, "capture_finish_ipc"))
	return nil
}

func (s *service) PressKey(req KeyRequest, resp *KeyResponse) error {
	if strings.TrimSpace(req.Key) == "" && req.Key != " " {
		return errors.New("key is required")
	}
	resp.Handled = s.daemon.PressKey(req.Key)
	return nil
}

func (s *service) SetCrop(req CropRequest, resp *CropResponse) error {
	parity, err := workflow.ParseParity(req.Parity)
	if err != nil {
		return err
	}
	if err := s.daemon.SetCrop(s.ctx, parity, req.Rect.ToRect()); err != nil {
		return err
	}
	resp.Parity = string(parity)
	return nil
}

func (s *service) ClearCrop(_ ClearCropRequest, resp *ClearCropResponse) error {
	if err := s.daemon.ClearCrops(s.ctx); err != nil {
		return err
	}
	resp.Cleared = true
	return nil
}

func (s *service) Overlay(req OverlayRequest, resp *OverlayResponse) error {
	var err error
	switch strings.ToLower(strings.TrimSpace(req.Kind)) {
	case "":
		err = s.daemon.CloseOverlay()
	case "config":
		err = s.daemon.OpenConfig()
	case "crop":
		parity, perr := workflow.ParseParity(req.Parity)
		if perr != nil {
			return perr
		}
		err = s.daemon.OpenCrop(parity)
	case "lightbox":
		err = s.daemon.OpenLightbox(req.Page)
	default:
		return fmt.Errorf("unknown overlay %q", req.Kind)
	}
	if err != nil {
		return err
	}
	snap, err := s.daemon.Snapshot()
	if err != nil {
		return err
	}
	resp.Capture = api.FromSnapshot(snap)
	return nil
}

func (s *service) Settings(_ SettingsRequest, resp *SettingsResponse) error {
	settings, err := s.daemon.Settings()
	if err != nil {
		return err
	}
	resp.Settings = api.FromSettings(settings)
	return nil
}

func (s *service) SaveConfig(req SaveConfigRequest, resp *SaveConfigResponse) error {
	err := s.daemon.SaveConfig(s.ctx, req.Settings.ToSettings())
	var validation *workflow.ValidationError
	if errors.As(err, &validation) {
		resp.Fields = validation.Fields
		return nil
	}
	if err != nil {
		return err
	}
	resp.Saved = true
	return nil
}
