// Package recorder implements the logger sink: a single consumer that
// drains an unbounded channel of raw request/task/error/debug records and
// serializes each to its configured file, in CSV, JSON-lines, or raw
// format. Writes are best-effort — I/O errors are logged and never block a
// user.
package recorder

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Format selects the on-disk encoding for one sink.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatRaw  Format = "raw"
)

// FileSink configures one record-kind's output.
type FileSink struct {
	Filename   string
	Format     Format
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

func (f FileSink) enabled() bool { return f.Filename != "" }

func (f FileSink) writer() io.Writer {
	return &lumberjack.Logger{
		Filename:   f.Filename,
		MaxSize:    f.MaxSizeMB,
		MaxBackups: f.MaxBackups,
		MaxAge:     f.MaxAgeDays,
		Compress:   f.Compress,
	}
}

// RequestEntry is one raw request record as written to the request log.
type RequestEntry struct {
	TimestampMS  int64  `json:"timestamp_ms"`
	Method       string `json:"method"`
	Name         string `json:"name"`
	ElapsedMS    int64  `json:"elapsed_ms"`
	Status       int    `json:"status"`
	Success      bool   `json:"success"`
	Update       bool   `json:"update"`
	UserID       int    `json:"user_id"`
	ErrorString  string `json:"error_string,omitempty"`
	FinalURL     string `json:"final_url,omitempty"`
	Redirected   bool   `json:"redirected"`
	ResponseSize int64  `json:"response_size"`
}

// TaskEntry is one raw task record as written to the task log.
type TaskEntry struct {
	TimestampMS  int64  `json:"timestamp_ms"`
	TaskSetIndex int    `json:"taskset_index"`
	TaskIndex    int    `json:"task_index"`
	TaskName     string `json:"task_name"`
	ElapsedMS    int64  `json:"elapsed_ms"`
	Success      bool   `json:"success"`
	UserID       int    `json:"user_id"`
}

// ErrorEntry is one raw error record as written to the error log.
type ErrorEntry struct {
	Method      string `json:"method"`
	Name        string `json:"name"`
	ErrorString string `json:"error_string"`
}

// Entry is the sum type carried on the sink's input channel. A nil Entry
// (every field unset) signals flush-and-exit.
type Entry struct {
	Request *RequestEntry
	Task    *TaskEntry
	Error   *ErrorEntry
	Debug   string
}

func (e Entry) isStop() bool {
	return e.Request == nil && e.Task == nil && e.Error == nil && e.Debug == ""
}

// Sink is the single logger-sink consumer. It is created once per attack
// (if at least one file is configured), started when Starting begins, and
// joined during Stopping, after every user has exited and before the final
// metrics drain completes.
type Sink struct {
	request FileSink
	task    FileSink
	errFile FileSink
	debug   FileSink

	in  chan Entry
	log *logrus.Entry

	done chan struct{}
}

// Config groups the four file sinks the engine supports.
type Config struct {
	Request FileSink
	Task    FileSink
	Error   FileSink
	Debug   FileSink
}

// Enabled reports whether at least one file sink is configured.
func (c Config) Enabled() bool {
	return c.Request.enabled() || c.Task.enabled() || c.Error.enabled() || c.Debug.enabled()
}

// New returns a Sink ready to Run. log receives write-failure diagnostics.
func New(cfg Config, log *logrus.Entry) *Sink {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sink{
		request: cfg.Request,
		task:    cfg.Task,
		errFile: cfg.Error,
		debug:   cfg.Debug,
		in:      make(chan Entry, 4096),
		log:     log,
		done:    make(chan struct{}),
	}
}

// Send enqueues one entry for the sink to write.
func (s *Sink) Send(e Entry) {
	s.in <- e
}

// Start re-arms the sink for a new Starting→Stopping cycle and launches the
// consumer goroutine. A Sink alternates Start and Stop calls; the supervisor
// drives one pair per attack cycle.
func (s *Sink) Start() {
	s.done = make(chan struct{})
	go s.Run()
}

// Stop signals flush-and-exit and blocks until the consumer goroutine has
// drained and closed its files.
func (s *Sink) Stop() {
	s.in <- Entry{}
	<-s.done
}

// Run drains the input channel, writing each entry to its configured file,
// until a stop entry arrives. It is meant to run in its own goroutine.
func (s *Sink) Run() {
	defer close(s.done)

	writers := newWriterSet(s.request, s.task, s.errFile, s.debug)
	defer writers.closeAll()

	for e := range s.in {
		if e.isStop() {
			return
		}
		s.write(writers, e)
	}
}

func (s *Sink) write(w *writerSet, e Entry) {
	var err error
	switch {
	case e.Request != nil:
		err = w.writeRequest(s.request.Format, e.Request)
	case e.Task != nil:
		err = w.writeTask(s.task.Format, e.Task)
	case e.Error != nil:
		err = w.writeError(s.errFile.Format, e.Error)
	case e.Debug != "":
		err = w.writeDebug(e.Debug)
	}
	if err != nil {
		s.log.WithField("error", err).Warn("recorder: write failed")
	}
}

type writerSet struct {
	request    io.Writer
	task       io.Writer
	errFile    io.Writer
	debug      io.Writer
	requestCSV *csv.Writer
	taskCSV    *csv.Writer
	errCSV     *csv.Writer
	closers    []io.Closer
}

func newWriterSet(request, task, errFile, debug FileSink) *writerSet {
	ws := &writerSet{}
	if request.enabled() {
		mw := NewMultiWriter().AddFileAppender(request)
		ws.request = mw
		ws.closers = append(ws.closers, mw)
		if request.Format == FormatCSV {
			ws.requestCSV = csv.NewWriter(mw)
		}
	}
	if task.enabled() {
		mw := NewMultiWriter().AddFileAppender(task)
		ws.task = mw
		ws.closers = append(ws.closers, mw)
		if task.Format == FormatCSV {
			ws.taskCSV = csv.NewWriter(mw)
		}
	}
	if errFile.enabled() {
		mw := NewMultiWriter().AddFileAppender(errFile)
		ws.errFile = mw
		ws.closers = append(ws.closers, mw)
		if errFile.Format == FormatCSV {
			ws.errCSV = csv.NewWriter(mw)
		}
	}
	if debug.enabled() {
		mw := NewMultiWriter().AddFileAppender(debug)
		ws.debug = mw
		ws.closers = append(ws.closers, mw)
	}
	return ws
}

func (w *writerSet) closeAll() {
	if w.requestCSV != nil {
		w.requestCSV.Flush()
	}
	if w.taskCSV != nil {
		w.taskCSV.Flush()
	}
	if w.errCSV != nil {
		w.errCSV.Flush()
	}
	for _, c := range w.closers {
		_ = c.Close()
	}
}

func (w *writerSet) writeRequest(format Format, r *RequestEntry) error {
	if w.request == nil {
		return nil
	}
	switch format {
	case FormatCSV:
		row := []string{
			strconv.FormatInt(r.TimestampMS, 10), r.Method, r.Name,
			strconv.FormatInt(r.ElapsedMS, 10), strconv.Itoa(r.Status),
			strconv.FormatBool(r.Success), strconv.FormatBool(r.Update),
			strconv.Itoa(r.UserID), r.ErrorString,
		}
		if err := w.requestCSV.Write(row); err != nil {
			return err
		}
		w.requestCSV.Flush()
		return w.requestCSV.Error()
	case FormatRaw:
		_, err := fmt.Fprintf(w.request, "%+v\n", *r)
		return err
	default:
		enc := json.NewEncoder(w.request)
		return enc.Encode(r)
	}
}

func (w *writerSet) writeTask(format Format, r *TaskEntry) error {
	if w.task == nil {
		return nil
	}
	switch format {
	case FormatCSV:
		row := []string{
			strconv.FormatInt(r.TimestampMS, 10), strconv.Itoa(r.TaskSetIndex),
			strconv.Itoa(r.TaskIndex), r.TaskName,
			strconv.FormatInt(r.ElapsedMS, 10), strconv.FormatBool(r.Success),
			strconv.Itoa(r.UserID),
		}
		if err := w.taskCSV.Write(row); err != nil {
			return err
		}
		w.taskCSV.Flush()
		return w.taskCSV.Error()
	case FormatRaw:
		_, err := fmt.Fprintf(w.task, "%+v\n", *r)
		return err
	default:
		enc := json.NewEncoder(w.task)
		return enc.Encode(r)
	}
}

func (w *writerSet) writeError(format Format, r *ErrorEntry) error {
	if w.errFile == nil {
		return nil
	}
	switch format {
	case FormatCSV:
		row := []string{r.Method, r.Name, r.ErrorString}
		if err := w.errCSV.Write(row); err != nil {
			return err
		}
		w.errCSV.Flush()
		return w.errCSV.Error()
	case FormatRaw:
		_, err := fmt.Fprintf(w.errFile, "%+v\n", *r)
		return err
	default:
		enc := json.NewEncoder(w.errFile)
		return enc.Encode(r)
	}
}

func (w *writerSet) writeDebug(line string) error {
	if w.debug == nil {
		return nil
	}
	_, err := fmt.Fprintln(w.debug, line)
	return err
}
