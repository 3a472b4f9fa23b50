package main

import (
	"context"
	"net/url"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"vm-console/logging"
	"vm-console/metrics"
	"vm-console/vnc"
)

type WSRequest struct {
	RequestID int    `json:"requestId"`
	Query     string `json:"q"`
}

type WSMessage struct {
	RequestID int    `json:"requestId"`
	HTML      string `json:"html"`
	Error     string `json:"error,omitempty"`
}

// handleTreeSocket answers sidebar requests over one connection. Every answer
// carries the requestId it was asked with so the page can drop late ones.
func (s *server) handleTreeSocket(c *websocket.Conn) {
	defer c.Close()

	profile, _ := c.Locals(profileLocal).(string)
	logging.L().Debug("tree websocket connected", zap.String("profile", profile))

	for {
		var req WSRequest
		if err := c.ReadJSON(&req); err != nil {
			logging.L().Debug("tree websocket read", zap.Error(err))
			return
		}

		html, res := s.loadTree(context.Background(), profile, req.Query)
		msg := WSMessage{RequestID: req.RequestID, HTML: html, Error: res.Message}
		if err := c.WriteJSON(msg); err != nil {
			logging.L().Warn("tree websocket write", zap.Int("request_id", req.RequestID), zap.Error(err))
			return
		}
	}
}

// consoleMessage is what the console relay sends to the page.
type consoleMessage struct {
	Event  string `json:"event,omitempty"`
	Reason string `json:"reason,omitempty"`
	Status string `json:"status,omitempty"`
}

// consoleAction is what the page sends to the relay.
type consoleAction struct {
	Action string `json:"action"`
}

// handleConsoleSocket opens the placeholder console for a VM and relays its
// status and lifecycle to the page.
func (s *server) handleConsoleSocket(c *websocket.Conn) {
	defer c.Close()

	// params arrive still path-escaped; consoleURL escapes them again
	node, err := url.PathUnescape(c.Params("node"))
	if err != nil {
		return
	}
	vmid, err := url.PathUnescape(c.Params("vmid"))
	if err != nil {
		return
	}
	target := consoleURL(s.cfg.ConsoleURL, node, vmid)

	metrics.ConsoleOpened()
	defer metrics.ConsoleClosed()

	var writeMu sync.Mutex
	send := func(m consoleMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := c.WriteJSON(m); err != nil {
			logging.L().Debug("console relay write", zap.Error(err))
		}
	}

	display := vnc.DisplayFunc(func(st vnc.Status) { send(consoleMessage{Status: st.Text}) })
	onEvent := func(e vnc.Event) { send(consoleMessage{Event: e.Type, Reason: e.Reason}) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := vnc.Dial(ctx, display, target, vnc.Options{OnEvent: onEvent})
	if err != nil {
		logging.L().Warn("console dial failed", zap.String("node", node), zap.String("vmid", vmid), zap.Error(err))
		return
	}

	actions := make(chan string)
	go func() {
		defer close(actions)
		for {
			var a consoleAction
			if err := c.ReadJSON(&a); err != nil {
				return
			}
			select {
			case actions <- a.Action:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-session.Done():
			return
		case action, ok := <-actions:
			if !ok {
				session.Disconnect()
				return
			}
			switch action {
			case "ctrl_alt_del":
				session.SendCtrlAltDel()
			case "resize":
				session.ResizeSession()
			case "disconnect":
				session.Disconnect()
				return
			default:
				logging.L().Debug("unknown console action", zap.String("action", action))
			}
		}
	}
}
