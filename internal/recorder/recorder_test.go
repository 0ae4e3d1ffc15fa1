package recorder

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSinkWritesJSONRequests(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "requests.jsonl")

	sink := New(Config{Request: FileSink{Filename: path, Format: FormatJSON}}, nil)
	go sink.Run()

	sink.Send(Entry{Request: &RequestEntry{Method: "GET", Name: "/", ElapsedMS: 5, Status: 200, Success: true}})
	sink.Stop()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var got RequestEntry
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
	require.Equal(t, "GET", got.Method)
	require.Equal(t, 200, got.Status)
}

func TestSinkWritesCSVTasks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.csv")

	sink := New(Config{Task: FileSink{Filename: path, Format: FormatCSV}}, nil)
	go sink.Run()

	sink.Send(Entry{Task: &TaskEntry{TaskName: "login", ElapsedMS: 42, Success: true}})
	sink.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "login")
	require.Contains(t, string(data), "42")
}

func TestSinkSkipsDisabledFiles(t *testing.T) {
	sink := New(Config{}, nil)
	go sink.Run()

	sink.Send(Entry{Request: &RequestEntry{Method: "GET", Name: "/", Success: true}})
	sink.Stop() // must not hang or panic with no files configured
}

func TestConfigEnabled(t *testing.T) {
	require.False(t, Config{}.Enabled())
	require.True(t, Config{Request: FileSink{Filename: "x.log"}}.Enabled())
}

func TestMultiWriterFansOut(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.log")
	b := filepath.Join(dir, "b.log")

	fa, err := os.Create(a)
	require.NoError(t, err)
	defer fa.Close()
	fb, err := os.Create(b)
	require.NoError(t, err)
	defer fb.Close()

	mw := NewMultiWriter().Add(fa).Add(fb)
	_, err = mw.Write([]byte("hello\n"))
	require.NoError(t, err)

	got, err := os.ReadFile(a)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(got))
	got, err = os.ReadFile(b)
	require.NoError(t, err)
	require.Equal(t, "hello\n", string(got))
}
