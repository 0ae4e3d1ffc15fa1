package recorder

import "io"

// MultiWriter fans a single write out to every registered writer, used to
// mirror a sink's output to multiple destinations (e.g. a rotated file plus
// stdout during debugging).
type MultiWriter struct {
	writers []io.Writer
}

// NewMultiWriter returns an empty MultiWriter.
func NewMultiWriter() *MultiWriter {
	return &MultiWriter{writers: make([]io.Writer, 0)}
}

// Add registers writer and returns m, so registrations can be chained.
func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

// AddFileAppender registers a rotated file writer built from sink.
func (m *MultiWriter) AddFileAppender(sink FileSink) *MultiWriter {
	return m.Add(sink.writer())
}

// Write implements io.Writer, writing p to every registered writer and
// returning the last error encountered, if any.
func (m *MultiWriter) Write(p []byte) (n int, err error) {
	for _, w := range m.writers {
		if _, e := w.Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}

// Close closes every registered writer that is also an io.Closer, returning
// the last error encountered, if any.
func (m *MultiWriter) Close() error {
	var err error
	for _, w := range m.writers {
		if c, ok := w.(io.Closer); ok {
			if e := c.Close(); e != nil {
				err = e
			}
		}
	}
	return err
}
