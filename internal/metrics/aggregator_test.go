package metrics

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAggregatorFoldsRequestRecords(t *testing.T) {
	a := NewAggregator(Options{TrackStatusCodes: true}, 16)
	go a.Run()

	a.Send(Record{Request: &RequestRecord{Method: "GET", Name: "/", ElapsedMS: 10, Status: 200, Success: true}})
	a.Send(Record{Request: &RequestRecord{Method: "GET", Name: "/", ElapsedMS: 20, Status: 500, Success: false}})
	a.Close()

	time.Sleep(10 * time.Millisecond)

	snap := a.Snapshot()
	req, ok := snap.Requests["GET /"]
	if !ok {
		t.Fatalf("expected aggregate under key %q", "GET /")
	}
	if req.Counter != 2 || req.Success != 1 || req.Fail != 1 {
		t.Fatalf("unexpected counters: %+v", req)
	}
	if req.StatusCodes[200] != 1 || req.StatusCodes[500] != 1 {
		t.Fatalf("unexpected status codes: %+v", req.StatusCodes)
	}
}

func TestAggregatorErrorSummary(t *testing.T) {
	a := NewAggregator(Options{TrackErrorSummary: true}, 16)
	go a.Run()

	a.Send(Record{Request: &RequestRecord{Method: "GET", Name: "/x", ElapsedMS: 5, Success: false, ErrorString: "timeout"}})
	a.Send(Record{Request: &RequestRecord{Method: "GET", Name: "/x", ElapsedMS: 5, Success: false, ErrorString: "timeout"}})
	a.Close()
	time.Sleep(10 * time.Millisecond)

	snap := a.Snapshot()
	key := ErrorKey("GET", "/x", "timeout")
	errAgg, ok := snap.Errors[key]
	if !ok {
		t.Fatalf("expected error aggregate for key %q", key)
	}
	if errAgg.Occurrences != 2 {
		t.Fatalf("occurrences = %d, want 2", errAgg.Occurrences)
	}
}

func TestAggregatorTaskTracking(t *testing.T) {
	a := NewAggregator(Options{TrackTasks: true}, 16)
	go a.Run()

	a.Send(Record{Task: &TaskRecord{TaskName: "login", ElapsedMS: 100, Success: true}})
	a.Close()
	time.Sleep(10 * time.Millisecond)

	snap := a.Snapshot()
	task, ok := snap.Tasks["login"]
	if !ok {
		t.Fatalf("expected task aggregate for %q", "login")
	}
	if task.Counter != 1 || task.AvgElapsedMS != 100 {
		t.Fatalf("unexpected task snapshot: %+v", task)
	}
}

func TestAggregatorTasksDisabledByDefault(t *testing.T) {
	a := NewAggregator(Options{}, 16)
	go a.Run()

	a.Send(Record{Task: &TaskRecord{TaskName: "login", ElapsedMS: 100, Success: true}})
	a.Close()
	time.Sleep(10 * time.Millisecond)

	snap := a.Snapshot()
	if len(snap.Tasks) != 0 {
		t.Fatalf("expected no task aggregates when TrackTasks is false, got %+v", snap.Tasks)
	}
}

func TestAggregatorSynthesizesOmittedSamples(t *testing.T) {
	a := NewAggregator(Options{}, 16)
	go a.Run()

	a.Send(Record{Request: &RequestRecord{Method: "GET", Name: "/", ElapsedMS: 10, Success: true}})
	a.Send(Record{Request: &RequestRecord{
		Method: "GET", Name: "/", ElapsedMS: 10, Success: true,
		Update: true, GapMS: 350, CadenceMS: 100,
	}})
	a.Close()
	time.Sleep(10 * time.Millisecond)

	snap := a.Snapshot()
	req := snap.Requests["GET /"]
	// 2 raw records + 2 synthesized (350/100 - 1 = 2)
	if req.Counter != 4 {
		t.Fatalf("counter = %d, want 4", req.Counter)
	}
	if req.SynthesizedCount != 2 {
		t.Fatalf("synthesized count = %d, want 2", req.SynthesizedCount)
	}
}

func TestErrorAggregateJSONRoundTrip(t *testing.T) {
	entry := ErrorAggregate{Method: "GET", Name: "/x", ErrorString: "status 404", Occurrences: 7}
	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got ErrorAggregate
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != entry {
		t.Fatalf("round trip changed the value: %+v != %+v", got, entry)
	}
}

func TestAggregatorReset(t *testing.T) {
	a := NewAggregator(Options{}, 16)
	go a.Run()

	a.Send(Record{Request: &RequestRecord{Method: "GET", Name: "/", ElapsedMS: 10, Success: true}})
	a.Close()
	time.Sleep(10 * time.Millisecond)

	a.Reset()
	snap := a.Snapshot()
	if len(snap.Requests) != 0 {
		t.Fatalf("expected empty snapshot after reset, got %+v", snap.Requests)
	}
}

func TestAggregatorDrainAvailableDoesNotBlock(t *testing.T) {
	a := NewAggregator(Options{}, 16)
	a.Send(Record{Request: &RequestRecord{Method: "GET", Name: "/", ElapsedMS: 10, Success: true}})

	n := a.DrainAvailable()
	if n != 1 {
		t.Fatalf("drained %d records, want 1", n)
	}
	if n2 := a.DrainAvailable(); n2 != 0 {
		t.Fatalf("second drain should find nothing buffered, got %d", n2)
	}
}
