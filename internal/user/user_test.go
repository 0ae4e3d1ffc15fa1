package user

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/swanling/swanling/internal/metrics"
)

func TestHandleGetRecordsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	agg := metrics.NewAggregator(metrics.Options{}, 16)
	go agg.Run()

	h, err := NewHandle(1, srv.URL, nil, agg, nil, nil)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}

	resp, err := h.Get("/ping", "ping")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	agg.Close()
	time.Sleep(10 * time.Millisecond)

	snap := agg.Snapshot()
	req, ok := snap.Requests["GET ping"]
	if !ok {
		t.Fatalf("expected aggregate for %q, got %+v", "GET ping", snap.Requests)
	}
	if req.Success != 1 {
		t.Fatalf("success = %d, want 1", req.Success)
	}
}

func TestHandleGetRecordsFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	agg := metrics.NewAggregator(metrics.Options{}, 16)
	go agg.Run()

	h, err := NewHandle(1, srv.URL, nil, agg, nil, nil)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	if _, err := h.Get("/broken", "broken"); err != nil {
		t.Fatalf("Get should not error on a 500 response: %v", err)
	}

	agg.Close()
	time.Sleep(10 * time.Millisecond)

	snap := agg.Snapshot()
	req := snap.Requests["GET broken"]
	if req.Fail != 1 || req.Success != 0 {
		t.Fatalf("unexpected snapshot: %+v", req)
	}
}

func TestHandleGetRecordsBareRedirectAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// a 302 with no Location header: the client stops following and
		// returns the response as-is
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	agg := metrics.NewAggregator(metrics.Options{}, 16)
	go agg.Run()

	h, err := NewHandle(1, srv.URL, nil, agg, nil, nil)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	if _, err := h.Get("/redirect", "redirect"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	agg.Close()
	time.Sleep(10 * time.Millisecond)

	snap := agg.Snapshot()
	req := snap.Requests["GET redirect"]
	if req.Fail != 1 || req.Success != 0 {
		t.Fatalf("a bare 3xx must count as a failure, got %+v", req)
	}
}

func TestRunExecutesOnStartMainOnStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h, err := NewHandle(1, srv.URL, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}

	var order []string
	task := func(label string) TaskFunc {
		return func(h *Handle) error {
			order = append(order, label)
			return nil
		}
	}

	plan := Plan{
		Tasks: []TaskSpec{
			{Name: "start", Function: task("start")},
			{Name: "main", Function: task("main")},
			{Name: "stop", Function: task("stop")},
		},
		OnStart: []Entry{{TaskIndex: 0, TaskName: "start"}},
		Main:    []Entry{{TaskIndex: 1, TaskName: "main"}},
		OnStop:  []Entry{{TaskIndex: 2, TaskName: "stop"}},
	}

	cmd := make(chan Command, 1)
	done := make(chan struct{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cmd <- Exit
	}()

	Run(h, plan, cmd, done)

	if len(order) < 3 || order[0] != "start" || order[len(order)-1] != "stop" {
		t.Fatalf("unexpected execution order: %v", order)
	}
}

func TestRunSkipsMainLoopWhenEmpty(t *testing.T) {
	h, err := NewHandle(1, "http://example.invalid", nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}

	ran := false
	plan := Plan{
		Tasks:   []TaskSpec{{Name: "stop", Function: func(h *Handle) error { ran = true; return nil }}},
		OnStop:  []Entry{{TaskIndex: 0, TaskName: "stop"}},
	}

	done := make(chan struct{})
	cmd := make(chan Command)
	Run(h, plan, cmd, done) // must return immediately since Main is empty

	if !ran {
		t.Fatalf("expected on-stop task to run even with an empty main loop")
	}
}
