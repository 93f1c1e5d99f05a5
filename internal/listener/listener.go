// Package listener implements the Downstream Listener (§4.5): it accepts
// WebSocket upgrades, enforces a maximum concurrent connection count,
// delivers text frames to the dispatcher, and writes back reply frames.
package listener

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/koodaamo/wwproxy/internal/dispatch"
)

// Listener binds a single downstream WebSocket endpoint.
type Listener struct {
	addr string
	path string

	dispatcher *dispatch.Dispatcher
	upgrader   websocket.Upgrader
	logger     zerolog.Logger

	sem chan struct{}

	httpServer *http.Server
	wg         sync.WaitGroup

	closing chan struct{}
	once    sync.Once
}

// New builds a Listener bound to host:port, serving upgrades at path, and
// capping concurrent connections at maxConnections.
func New(host, port, path string, maxConnections int, d *dispatch.Dispatcher, logger zerolog.Logger) *Listener {
	if maxConnections <= 0 {
		maxConnections = 1
	}
	l := &Listener{
		addr:       net.JoinHostPort(host, port),
		path:       path,
		dispatcher: d,
		logger:     logger,
		sem:        make(chan struct{}, maxConnections),
		closing:    make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, l.handleUpgrade)
	l.httpServer = &http.Server{
		Addr:    l.addr,
		Handler: mux,
	}
	return l
}

// ListenAndServe blocks serving downstream connections until Shutdown is
// called or an unrecoverable listen error occurs.
func (l *Listener) ListenAndServe() error {
	l.logger.Info().Str("addr", l.addr).Str("path", l.path).Msg("downstream listener starting")
	err := l.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting new connections, signals active connection
// loops to close, and waits (up to ctx's deadline) for them to drain.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.once.Do(func() { close(l.closing) })
	if err := l.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case l.sem <- struct{}{}:
	default:
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}
	defer func() { <-l.sem }()

	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	l.wg.Add(1)
	defer l.wg.Done()
	l.serveConn(conn)
}

// serveConn reads frames until the connection closes, the proxy is
// shutting down, or a binary frame arrives (a connection-level protocol
// error per §4.5). Each frame is dispatched in its own goroutine: a session
// may carry many in-flight calls concurrently and does not serialize them
// (§4.4), so replies may land out of order relative to requests (§5) —
// only the physical write to the socket is serialized, via writeMu.
func (l *Listener) serveConn(conn *websocket.Conn) {
	defer conn.Close()

	connDone := make(chan struct{})
	defer close(connDone)

	var writeMu sync.Mutex
	writeText := func(data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	go func() {
		select {
		case <-l.closing:
			writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			writeMu.Unlock()
			conn.Close()
		case <-connDone:
		}
	}()

	var inFlight sync.WaitGroup
	defer inFlight.Wait()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if msgType == websocket.BinaryMessage {
			writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "binary frames are not supported"),
				time.Now().Add(time.Second))
			writeMu.Unlock()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		frame := data
		inFlight.Add(1)
		go func() {
			defer inFlight.Done()
			reply := l.dispatcher.Handle(context.Background(), frame)
			_ = writeText(reply)
		}()
	}
}
