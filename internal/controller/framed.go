package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/http/httpguts"
)

// envelope is the wire shape of one framed-protocol client message.
type envelope struct {
	Request string `json:"request"`
}

// envelopeReply is the wire shape of one framed-protocol server reply.
type envelopeReply struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// isWebsocketUpgrade checks the standard handshake headers (RFC 6455 §4.2.1)
// with the same token-matching rules net/http's own server uses, before
// handing the request to gorilla's upgrader.
func isWebsocketUpgrade(r *http.Request) bool {
	return httpguts.HeaderValuesContainsToken(r.Header["Connection"], "upgrade") &&
		httpguts.HeaderValuesContainsToken(r.Header["Upgrade"], "websocket")
}

// FramedListener serves the framed controller protocol: one JSON envelope
// per websocket text frame, with a close frame on exit/shutdown.
type FramedListener struct {
	addr    string
	out     chan<- Request
	log     *logrus.Entry
	session *atomic.Int64

	mu      sync.Mutex
	server  *http.Server
	conns   map[*websocket.Conn]struct{}
	wg      sync.WaitGroup
	stopped bool

	// done is closed by Stop so sessions blocked on a supervisor reply
	// unwind instead of stalling the Stop join.
	done chan struct{}
}

// NewFramedListener returns a listener serving the framed protocol on addr.
func NewFramedListener(addr string, out chan<- Request, session *atomic.Int64, log *logrus.Entry) *FramedListener {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FramedListener{addr: addr, out: out, session: session, log: log, conns: make(map[*websocket.Conn]struct{}), done: make(chan struct{})}
}

// Serve binds addr and accepts websocket upgrades until ctx is canceled.
func (f *FramedListener) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", f.handleUpgrade)

	f.server = &http.Server{Addr: f.addr, Handler: mux}
	f.log.WithField("addr", f.addr).Info("framed controller listening")

	errCh := make(chan error, 1)
	go func() {
		if err := f.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return f.Stop()
	case err := <-errCh:
		return fmt.Errorf("framed controller: %w", err)
	}
}

func (f *FramedListener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !isWebsocketUpgrade(r) {
		http.Error(w, "expected a websocket upgrade request", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.WithField("error", err).Warn("framed controller: upgrade failed")
		return
	}

	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.conns[conn] = struct{}{}
	f.wg.Add(1)
	f.mu.Unlock()

	go f.handle(conn)
}

func (f *FramedListener) handle(conn *websocket.Conn) {
	defer f.wg.Done()
	defer func() {
		f.mu.Lock()
		delete(f.conns, conn)
		f.mu.Unlock()
		conn.Close()
	}()

	sessionID := f.session.Add(1)
	log := f.log.WithField("session_id", sessionID)
	log.Debug("framed controller: session opened")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			f.writeReply(conn, envelopeReply{Response: "error: malformed envelope", Success: false})
			continue
		}

		reply, closeReason := f.dispatch(sessionID, env.Request)
		f.writeReply(conn, reply)
		if closeReason != "" {
			deadline := time.Now().Add(time.Second)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReason), deadline)
			return
		}
	}
}

func (f *FramedListener) dispatch(sessionID int64, request string) (envelopeReply, string) {
	cmd, value, err := Parse(request)
	if err != nil {
		return envelopeReply{Response: fmt.Sprintf("error: %s", err), Success: false}, ""
	}

	if cmd.Local() {
		if cmd == CmdHelp {
			return envelopeReply{Response: HelpText, Success: true}, ""
		}
		return envelopeReply{Response: "goodbye", Success: true}, string(CmdExit)
	}

	respCh := make(chan Reply, 1)
	select {
	case f.out <- Request{SessionID: sessionID, Command: cmd, Value: value, Reply: respCh}:
	case <-f.done:
		return envelopeReply{Response: "error: controller shutting down", Success: false}, "stopped"
	}
	select {
	case resp := <-respCh:
		var closeReason string
		if cmd == CmdShutdown {
			closeReason = string(CmdShutdown)
		}
		return envelopeReply{Response: resp.Text, Success: resp.Success}, closeReason
	case <-f.done:
		return envelopeReply{Response: "error: controller shutting down", Success: false}, "stopped"
	}
}

func (f *FramedListener) writeReply(conn *websocket.Conn, reply envelopeReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

// Stop closes the HTTP server and every open connection, then waits for
// in-flight sessions to exit.
func (f *FramedListener) Stop() error {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil
	}
	f.stopped = true
	close(f.done)
	for c := range f.conns {
		c.Close()
	}
	server := f.server
	f.mu.Unlock()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
	f.wg.Wait()
	return nil
}
