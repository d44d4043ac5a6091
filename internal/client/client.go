// Package client is a Go connection manager for the chat relay. It owns one
// WebSocket at a time, hands every inbound event to a callback and, once a
// session was authenticated, reconnects after a fixed delay and
// re-authenticates.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/zodiacchat/internal/protocol"
)

// DefaultReconnectDelay is the pause between a lost connection and the next
// dial attempt.
const DefaultReconnectDelay = 3 * time.Second

const writeWait = 10 * time.Second

var (
	// ErrNotConnected is returned by Send while no connection is open.
	ErrNotConnected = errors.New("client: not connected")
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("client: closed")
)

// Handler receives every decoded server event, in arrival order, from the
// manager's read goroutine. It must not call Close.
type Handler func(protocol.Envelope)

// Options configures a Manager.
type Options struct {
	URL            string
	Origin         string
	ReconnectDelay time.Duration
	Dialer         *websocket.Dialer
	Logger         *zap.Logger
}

// Manager is a reconnecting chat connection.
type Manager struct {
	opts    Options
	handler Handler
	log     *zap.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	creds         *protocol.Credentials
	authenticated bool
	closed        bool

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Manager. Nothing is dialled until Connect.
func New(opts Options, handler Handler) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if handler == nil {
		handler = func(protocol.Envelope) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		opts:    opts,
		handler: handler,
		log:     opts.Logger.With(zap.String("url", opts.URL)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Connect opens the connection if it is not already open.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.conn != nil {
		return nil
	}

	conn, err := m.dial(ctx)
	if err != nil {
		return err
	}
	m.conn = conn
	m.wg.Add(1)
	go m.run(conn)
	return nil
}

// Connected reports whether a connection is currently open.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Authenticated reports whether the server accepted this session's credentials.
func (m *Manager) Authenticated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authenticated
}

// Auth logs in, creating the user if the server has never seen it. The
// credentials are replayed after every reconnect.
func (m *Manager) Auth(username, zodiac string) error {
	return m.login(protocol.TypeAuth, username, zodiac)
}

// Register creates a new user. Reconnects re-authenticate with auth.
func (m *Manager) Register(username, zodiac string) error {
	return m.login(protocol.TypeRegister, username, zodiac)
}

func (m *Manager) login(msgType, username, zodiac string) error {
	creds := &protocol.Credentials{Username: username, Zodiac: zodiac}
	m.mu.Lock()
	m.creds = creds
	m.mu.Unlock()
	return m.Send(msgType, creds)
}

// Send encodes and writes one event.
func (m *Manager) Send(msgType string, payload interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return fmt.Errorf("client: encode %s: %w", msgType, err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close ends the session and stops any reconnect attempt. It waits for the
// read goroutine to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.cancel()
	var err error
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = conn.Close()
	}
	m.wg.Wait()
	if isExpectedCloseError(err) {
		return nil
	}
	return err
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	headers := http.Header{}
	if m.opts.Origin != "" {
		headers.Set("Origin", m.opts.Origin)
	}
	conn, resp, err := m.opts.Dialer.DialContext(ctx, m.opts.URL, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", m.opts.URL, err)
	}
	return conn, nil
}

// run reads from conn until it fails, then reconnects while the session is
// authenticated and the manager is open.
func (m *Manager) run(conn *websocket.Conn) {
	defer m.wg.Done()

	for conn != nil {
		m.readLoop(conn)
		_ = conn.Close()

		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		retry := !m.closed && m.authenticated
		m.mu.Unlock()

		if !retry {
			return
		}
		m.log.Info("connection lost; reconnecting", zap.Duration("delay", m.opts.ReconnectDelay))
		conn = m.reconnect()
	}
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.logReadError(err)
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			m.log.Warn("discarding undecodable frame", zap.Error(err))
			continue
		}
		if env.Type == protocol.TypeAuthSuccess || env.Type == protocol.TypeRegisterSuccess {
			m.mu.Lock()
			m.authenticated = true
			m.mu.Unlock()
		}
		m.handler(env)
	}
}

// reconnect dials every ReconnectDelay until it succeeds or the manager is
// closed, then replays the stored credentials. It returns nil when closed.
func (m *Manager) reconnect() *websocket.Conn {
	for {
		select {
		case <-m.ctx.Done():
			return nil
		case <-time.After(m.opts.ReconnectDelay):
		}

		conn, err := m.dial(m.ctx)
		if err != nil {
			m.log.Warn("reconnect failed", zap.Error(err))
			continue
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		m.conn = conn
		creds := m.creds
		m.mu.Unlock()

		m.log.Info("reconnected")
		if creds != nil {
			if err := m.Send(protocol.TypeAuth, creds); err != nil {
				m.log.Warn("re-authentication failed", zap.Error(err))
			}
		}
		return conn
	}
}

func (m *Manager) logReadError(err error) {
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		m.log.Info("server closed the connection", zap.Error(err))
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		m.log.Debug("connection closed", zap.Error(err))
	default:
		m.log.Warn("read error", zap.Error(err))
	}
}

func isExpectedCloseError(err error) bool {
	return err == nil ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent)
}
