package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openbeamline/governor/internal/controller"
)

// Client is a thin HTTP/websocket client for governord's PV bus, grounded
// on the teacher's coconut.RpcClient: one small wrapper around a
// transport, with the actual verbs living in their own command files
// rather than on the client itself.
type Client struct {
	base string
	http *http.Client
}

// NewClient builds a Client bound to a governord HOST:PORT endpoint.
func NewClient(endpoint string) *Client {
	return &Client{
		base: "http://" + endpoint,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

// Read performs a read of one decoded PV channel name.
func (c *Client) Read(name string) (string, error) {
	resp, err := c.http.Get(c.base + "/pv/" + url.PathEscape(name))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

// ReadFloat reads a channel and parses it as a float64 setpoint.
func (c *Client) ReadFloat(name string) (float64, error) {
	s, err := c.Read(name)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

// Write performs a write of one decoded PV channel name, the command
// surface for Go-Cmd, Abort-Cmd, Config-Sel, Active-Sel, Kill-Cmd and
// per-device Pos-targets.
func (c *Client) Write(name, value string) error {
	req, err := http.NewRequest(http.MethodPut, c.base+"/pv/"+url.PathEscape(name), strings.NewReader(value))
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}

// Subscribe opens the PV bus's websocket feed and delivers decoded
// snapshots on the returned channel until ctx is cancelled or the
// connection drops, at which point the channel is closed.
func (c *Client) Subscribe(ctx context.Context, endpoint string) (<-chan controller.Snapshot, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, "ws://"+endpoint+"/ws", nil)
	if err != nil {
		return nil, err
	}

	out := make(chan controller.Snapshot, 16)
	go func() {
		defer close(out)
		defer conn.Close()
		go func() {
			<-ctx.Done()
			_ = conn.Close()
		}()
		for {
			var snap controller.Snapshot
			if err := conn.ReadJSON(&snap); err != nil {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
