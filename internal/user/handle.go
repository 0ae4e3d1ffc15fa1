// Package user implements the per-user runtime: the on-start/main/on-stop
// task loop, the interruptible inter-task wait, coordinated-omission
// cadence tracking, and the HTTP handle each task function is given to
// issue requests with.
package user

import (
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/swanling/swanling/internal/metrics"
	"github.com/swanling/swanling/internal/recorder"
	"github.com/swanling/swanling/internal/throttle"
)

// Handle is what a task function operates on: an HTTP client bound to one
// base URL, with cookies carried across requests, optional request
// throttling, and the channels that carry metrics and raw records
// downstream.
type Handle struct {
	UserID  int
	BaseURL string
	Client  *http.Client

	throttle *throttle.Throttle
	agg      *metrics.Aggregator
	rec      *recorder.Sink
	log      *logrus.Entry

	// cumulativeSleepMS accumulates every inter-task wait this user has
	// slept, exposed for diagnostics through CumulativeSleepMS.
	cumulativeSleepMS int64

	// armedGapMS/armedCadenceMS, when armedGapMS > 0, mark the next emitted
	// request record as a coordinated-omission update carrying the observed
	// gap and the cadence it was measured against.
	armedGapMS     int64
	armedCadenceMS int64

	// done, when non-nil, is checked before each request so a shutting-down
	// user doesn't block indefinitely on a throttle token.
	done <-chan struct{}
}

// SetDone wires the user's shutdown signal into the handle, so throttle
// acquisition can be interrupted.
func (h *Handle) SetDone(done <-chan struct{}) { h.done = done }

// NewHandle returns a Handle for userID against baseURL. agg and rec may be
// nil (metrics/recording disabled); t may be nil (throttling disabled).
func NewHandle(userID int, baseURL string, t *throttle.Throttle, agg *metrics.Aggregator, rec *recorder.Sink, log *logrus.Entry) (*Handle, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("user %d: cookie jar: %w", userID, err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handle{
		UserID:   userID,
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Client:   &http.Client{Jar: jar, Timeout: 60 * time.Second},
		throttle: t,
		agg:      agg,
		rec:      rec,
		log:      log,
	}, nil
}

// CumulativeSleepMS returns the total milliseconds this user has slept
// between tasks so far.
func (h *Handle) CumulativeSleepMS() int64 { return h.cumulativeSleepMS }

// Get issues a GET against path (resolved relative to BaseURL) and records
// a request metric under name. An empty name defaults to path.
func (h *Handle) Get(path, name string) (*http.Response, error) {
	return h.Send(http.MethodGet, path, name, nil)
}

// Post issues a POST with form-encoded body against path and records a
// request metric under name.
func (h *Handle) Post(path, name string, form url.Values) (*http.Response, error) {
	body := strings.NewReader(form.Encode())
	resp, err := h.send(http.MethodPost, path, name, body, "application/x-www-form-urlencoded")
	return resp, err
}

// Send issues an arbitrary-method request with an optional raw body and
// records a request metric under name.
func (h *Handle) Send(method, path, name string, body io.Reader) (*http.Response, error) {
	return h.send(method, path, name, body, "")
}

func (h *Handle) send(method, path, name string, body io.Reader, contentType string) (*http.Response, error) {
	if name == "" {
		name = path
	}

	if !h.acquireThrottle(h.done) {
		return nil, fmt.Errorf("user %d: shutting down", h.UserID)
	}

	fullURL := h.BaseURL + path
	req, err := http.NewRequest(method, fullURL, body)
	if err != nil {
		h.recordFailure(method, name, err.Error(), 0)
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := h.Client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		h.recordFailure(method, name, err.Error(), elapsed)
		return nil, err
	}

	// Any non-2xx response is a failure, including a bare 3xx the client
	// could not follow.
	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	var errString string
	if !success {
		errString = fmt.Sprintf("status %d", resp.StatusCode)
	}

	redirected := resp.Request != nil && resp.Request.URL.String() != fullURL
	finalURL := fullURL
	if resp.Request != nil {
		finalURL = resp.Request.URL.String()
	}

	h.emitRequest(method, name, elapsed, resp.StatusCode, success, errString, finalURL, redirected, resp.ContentLength)
	return resp, nil
}

func (h *Handle) recordFailure(method, name, errString string, elapsed time.Duration) {
	h.emitRequest(method, name, elapsed, 0, false, errString, "", false, 0)
}

// emitRequest sends one request record downstream, consuming any armed
// coordinated-omission gap so it rides on this record as a synthesis
// trigger, per the user runtime's cadence-tracking rule.
func (h *Handle) emitRequest(method, name string, elapsed time.Duration, status int, success bool, errString, finalURL string, redirected bool, responseSize int64) {
	r := metrics.NewRequestRecord(method, name, elapsed, status, success, h.UserID)
	r.ErrorString = errString
	r.FinalURL = finalURL
	r.Redirected = redirected
	r.ResponseSize = responseSize
	if h.armedGapMS > 0 {
		r.Update = true
		r.GapMS, r.CadenceMS = h.armedGapMS, h.armedCadenceMS
		h.armedGapMS, h.armedCadenceMS = 0, 0
	}

	if h.agg != nil {
		h.agg.Send(metrics.Record{Request: &r})
	}
	if h.rec != nil {
		h.rec.Send(recorder.Entry{Request: &recorder.RequestEntry{
			TimestampMS: r.TimestampMS, Method: r.Method, Name: r.Name,
			ElapsedMS: r.ElapsedMS, Status: r.Status, Success: r.Success, Update: r.Update,
			UserID: r.UserID, ErrorString: r.ErrorString, FinalURL: r.FinalURL,
			Redirected: r.Redirected, ResponseSize: r.ResponseSize,
		}})
		if !success && errString != "" {
			h.rec.Send(recorder.Entry{Error: &recorder.ErrorEntry{Method: method, Name: name, ErrorString: errString}})
		}
	}
}

// LogDebug writes one line to the debug log, when a debug log is
// configured. Task functions use it to capture request/response detail the
// metrics pipeline doesn't carry.
func (h *Handle) LogDebug(line string) {
	if h.rec != nil && line != "" {
		h.rec.Send(recorder.Entry{Debug: line})
	}
}

// acquireThrottle blocks on a throttle token, honoring an early-exit signal.
func (h *Handle) acquireThrottle(done <-chan struct{}) bool {
	return h.throttle.Acquire(done)
}
