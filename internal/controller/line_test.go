package controller

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestLineListenerServesHelpLocally(t *testing.T) {
	out := make(chan Request)
	var session atomic.Int64
	l := NewLineListener("127.0.0.1:0", out, &session, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	l.listener = ln
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.acceptLoop(ctx)
	defer l.Stop()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	readPrompt(t, reader)

	conn.Write([]byte("help\n"))
	line := readLine(t, reader)
	if !strings.Contains(line, "available commands") {
		t.Fatalf("expected help text, got %q", line)
	}
}

func TestLineListenerForwardsStartCommand(t *testing.T) {
	out := make(chan Request, 1)
	var session atomic.Int64
	l := NewLineListener("127.0.0.1:0", out, &session, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	l.listener = ln
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.acceptLoop(ctx)
	defer l.Stop()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	readPrompt(t, reader)
	conn.Write([]byte("start\n"))

	select {
	case req := <-out:
		if req.Command != CmdStart {
			t.Fatalf("forwarded command = %v, want CmdStart", req.Command)
		}
		req.Reply <- Reply{Text: "starting", Success: true}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for forwarded request")
	}

	line := readLine(t, reader)
	if line != "starting" {
		t.Fatalf("reply = %q, want %q", line, "starting")
	}
}

func readPrompt(t *testing.T, r *bufio.Reader) {
	t.Helper()
	buf := make([]byte, len(prompt))
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("read prompt: %v", err)
	}
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read line: %v", err)
	}
	return strings.TrimRight(line, "\n")
}
