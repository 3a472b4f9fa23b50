// Package vnc is a placeholder remote console. It opens the console websocket,
// reports the connection lifecycle and paints status text, but never decodes
// the framebuffer protocol: incoming frames are read and dropped.
//
// Events are delivered from the session's own goroutine once Dial has returned,
// except the disconnect of a failed dial. A connect always precedes the
// session's single disconnect.
package vnc

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vm-console/logging"
)

// Event types.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

const (
	reasonUser   = "Disconnected by user"
	reasonError  = "WebSocket error"
	reasonClosed = "Connection closed"
)

// Status is text painted on the display.
type Status struct {
	Text       string `json:"status"`
	Background string `json:"background"`
}

// Display is where status text is painted.
type Display interface {
	Paint(Status)
}

// DisplayFunc adapts a function to Display.
type DisplayFunc func(Status)

func (f DisplayFunc) Paint(s Status) { f(s) }

// Event is a lifecycle notification. Reason is set on disconnect.
type Event struct {
	Type   string `json:"event"`
	Reason string `json:"reason,omitempty"`
}

// Options configures Dial.
type Options struct {
	Header           http.Header
	HandshakeTimeout time.Duration
	// OnEvent receives connect and disconnect. Disconnect fires at most once.
	OnEvent func(Event)
}

// Session is one console connection.
type Session struct {
	display Display
	onEvent func(Event)

	mu   sync.Mutex
	conn *websocket.Conn
	user bool

	connected chan struct{}
	once      sync.Once
	done      chan struct{}
}

// Dial connects to url. Failing to connect is reported both as a disconnect
// event and as the returned error.
func Dial(ctx context.Context, display Display, url string, opts Options) (*Session, error) {
	if display == nil {
		display = DisplayFunc(func(Status) {})
	}
	s := &Session{
		display: display,
		onEvent:   opts.OnEvent,
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	if s.onEvent == nil {
		s.onEvent = func(Event) {}
	}

	s.display.Paint(Status{Text: "Connecting to VNC...", Background: "black"})
	logging.L().Info("console connecting", zap.String("url", url))

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
		Subprotocols:     []string{"binary"},
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 45 * time.Second
	}

	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		logging.L().Warn("console connect failed", zap.String("url", url), zap.Error(err))
		s.display.Paint(Status{Text: "Connection error", Background: "darkred"})
		s.finish(reasonError)
		return nil, err
	}

	s.conn = conn
	go s.drain()
	return s, nil
}

// drain announces the connection, then reads and discards frames until it ends.
func (s *Session) drain() {
	s.display.Paint(Status{Text: "Connected to VNC server", Background: "green"})
	s.onEvent(Event{Type: EventConnect})
	close(s.connected)

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.mu.Lock()
			user := s.user
			s.mu.Unlock()
			if user {
				return
			}

			reason := reasonClosed
			var ce *websocket.CloseError
			switch {
			case errors.As(err, &ce):
				if ce.Text != "" {
					reason = ce.Text
				}
				s.display.Paint(Status{Text: "Disconnected: " + reason, Background: "black"})
			default:
				logging.L().Debug("console read ended", zap.Error(err))
				reason = reasonError
				s.display.Paint(Status{Text: "Connection error", Background: "darkred"})
			}
			s.conn.Close()
			s.finish(reason)
			return
		}
	}
}

// finish fires the one disconnect event.
func (s *Session) finish(reason string) {
	s.once.Do(func() {
		s.onEvent(Event{Type: EventDisconnect, Reason: reason})
		close(s.done)
	})
}

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Disconnect closes the connection.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.user = true
	s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reasonUser)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.conn.Close()

	<-s.connected
	s.display.Paint(Status{Text: reasonUser, Background: "black"})
	s.finish(reasonUser)
}

// SendCtrlAltDel is accepted but sends nothing.
func (s *Session) SendCtrlAltDel() {
	logging.L().Info("console ctrl+alt+del requested")
	s.display.Paint(Status{Text: "Sent Ctrl+Alt+Del", Background: "blue"})
}

// ResizeSession is accepted but does nothing.
func (s *Session) ResizeSession() {
	logging.L().Debug("console resize requested")
}
