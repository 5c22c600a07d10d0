package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to a running capture session.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(serviceName+"."+method, req, resp)
}

// Status retrieves daemon and capture state.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Trigger requests a capture, or a retake when retake is set.
func (c *Client) Trigger(retake bool) (*TriggerResponse, error) {
	var resp TriggerResponse
	if err := c.call("Trigger", TriggerRequest{Retake: retake}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Finish ends the capture phase.
func (c *Client) Finish() (*FinishResponse, error) {
	var resp FinishResponse
	if err := c.call("Finish", FinishRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PressKey presses a bound shortcut key.
func (c *Client) PressKey(key string) (*KeyResponse, error) {
	var resp KeyResponse
	if err := c.call("PressKey", KeyRequest{Key: key}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetCrop stores a crop rectangle for one parity.
func (c *Client) SetCrop(req CropRequest) (*CropResponse, error) {
	var resp CropResponse
	if err := c.call("SetCrop", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearCrop removes both crop rectangles.
func (c *Client) ClearCrop() (*ClearCropResponse, error) {
	var resp ClearCropResponse
	if err := c.call("ClearCrop", ClearCropRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Overlay opens or closes an overlay.
func (c *Client) Overlay(req OverlayRequest) (*OverlayResponse, error) {
	var resp OverlayResponse
	if err := c.call("Overlay", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Settings retrieves the session device settings.
func (c *Client) Settings() (*SettingsResponse, error) {
	var resp SettingsResponse
	if err := c.call("Settings", SettingsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaveConfig stores device settings. Field errors come back in the response.
func (c *Client) SaveConfig(req SaveConfigRequest) (*SaveConfigResponse, error) {
	var resp SaveConfigResponse
	if err := c.call("SaveConfig", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
