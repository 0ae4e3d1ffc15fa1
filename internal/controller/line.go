package controller

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const prompt = "swanling> "

// LineListener accepts TCP connections and serves the line-oriented
// controller protocol: a prompt followed by CRLF-terminated commands.
type LineListener struct {
	addr    string
	out     chan<- Request
	log     *logrus.Entry
	session *atomic.Int64

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
	stopped  bool
}

// NewLineListener returns a listener that forwards non-local commands on
// out, tagging each with a session ID drawn from the shared counter.
func NewLineListener(addr string, out chan<- Request, session *atomic.Int64, log *logrus.Entry) *LineListener {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LineListener{addr: addr, out: out, session: session, log: log, conns: make(map[net.Conn]struct{})}
}

// Serve binds addr and accepts connections until ctx is canceled.
func (l *LineListener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("line controller: listen %s: %w", l.addr, err)
	}
	l.listener = ln

	l.log.WithField("addr", l.addr).Info("line controller listening")

	go l.acceptLoop(ctx)
	<-ctx.Done()
	return l.Stop()
}

func (l *LineListener) acceptLoop(ctx context.Context) {
	for {
		conn, err := l.listener.Accept()
		if err != nil {
			l.mu.Lock()
			stopped := l.stopped
			l.mu.Unlock()
			if stopped {
				return
			}
			l.log.WithField("error", err).Warn("line controller: accept failed")
			continue
		}

		l.mu.Lock()
		if l.stopped {
			l.mu.Unlock()
			conn.Close()
			return
		}
		l.conns[conn] = struct{}{}
		l.mu.Unlock()

		l.wg.Add(1)
		go l.handle(ctx, conn)
	}
}

func (l *LineListener) handle(ctx context.Context, conn net.Conn) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		delete(l.conns, conn)
		l.mu.Unlock()
		conn.Close()
	}()

	sessionID := l.session.Add(1)
	log := l.log.WithField("session_id", sessionID)
	log.Debug("line controller: session opened")

	fmt.Fprint(conn, prompt)
	scanner := bufio.NewScanner(conn)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			fmt.Fprint(conn, prompt)
			continue
		}

		reply, disconnect := l.dispatch(ctx, sessionID, line)
		fmt.Fprintf(conn, "%s\n%s", reply, prompt)
		if disconnect {
			return
		}
	}
}

func (l *LineListener) dispatch(ctx context.Context, sessionID int64, line string) (reply string, disconnect bool) {
	cmd, value, err := Parse(line)
	if err != nil {
		return fmt.Sprintf("error: %s", err), false
	}

	if cmd.Local() {
		if cmd == CmdHelp {
			return HelpText, false
		}
		return "goodbye", true
	}

	respCh := make(chan Reply, 1)
	select {
	case l.out <- Request{SessionID: sessionID, Command: cmd, Value: value, Reply: respCh}:
	case <-ctx.Done():
		return "error: controller shutting down", true
	}
	select {
	case resp := <-respCh:
		disconnect = cmd == CmdShutdown
		return resp.Text, disconnect
	case <-ctx.Done():
		return "error: controller shutting down", true
	}
}

// Stop closes the listener and every open connection, then waits for
// in-flight sessions to exit.
func (l *LineListener) Stop() error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	if l.listener != nil {
		l.listener.Close()
	}
	for c := range l.conns {
		c.Close()
	}
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}
