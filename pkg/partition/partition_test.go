package partition

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Sternrassler/uplift-export-client/pkg/client"
)

type recordingSink struct {
	batches []Batch
	err     error
}

func (s *recordingSink) Append(_ context.Context, batch Batch) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, batch)
	return nil
}

func rows(athlete, session string, n int) []client.Row {
	out := make([]client.Row, n)
	for i := range out {
		out[i] = client.Row{AthleteIDColumn: athlete, SessionIDColumn: session, "i": i}
	}
	return out
}

func addAll(t *testing.T, p *Partitioner, rs []client.Row) {
	t.Helper()
	for _, r := range rs {
		if err := p.Add(context.Background(), nil, r); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
}

func TestPartitioner_FlushOnKeyChange(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)

	addAll(t, p, rows("A", "S1", 3))
	addAll(t, p, rows("A", "S2", 2))
	addAll(t, p, rows("B", "S2", 1))
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	want := []struct {
		key  Key
		rows int
	}{
		{Key{"A", "S1"}, 3},
		{Key{"A", "S2"}, 2},
		{Key{"B", "S2"}, 1},
	}
	if len(sink.batches) != len(want) {
		t.Fatalf("flushes = %d, want %d", len(sink.batches), len(want))
	}
	for i, w := range want {
		if sink.batches[i].Key != w.key || len(sink.batches[i].Rows) != w.rows {
			t.Errorf("flush[%d] = %s with %d rows, want %s with %d", i,
				sink.batches[i].Key, len(sink.batches[i].Rows), w.key, w.rows)
		}
	}
	if got := p.Stats(); got.Groups != 3 || got.Rows != 6 {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestPartitioner_RunAcrossPagesIsOneFlush(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	ctx := context.Background()

	all := rows("A", "S1", 700)
	pages := []*client.ResultPage{
		{Schema: []client.Column{{Name: "athleteid"}, {Name: "sessionid"}, {Name: "i"}}, Rows: all[:500]},
		{Rows: all[500:]},
	}
	for _, page := range pages {
		if err := p.AddPage(ctx, page); err != nil {
			t.Fatalf("AddPage() error = %v", err)
		}
	}
	if len(sink.batches) != 0 {
		t.Fatalf("flushed before the stream ended: %d", len(sink.batches))
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if len(sink.batches) != 1 {
		t.Fatalf("flushes = %d, want 1", len(sink.batches))
	}
	b := sink.batches[0]
	if len(b.Rows) != 700 {
		t.Errorf("rows = %d, want 700", len(b.Rows))
	}
	if len(b.Columns) != 3 || b.Columns[2] != "i" {
		t.Errorf("columns = %v, want schema order", b.Columns)
	}
	for i, r := range b.Rows {
		if r["i"] != i {
			t.Fatalf("row %d out of order: %v", i, r["i"])
		}
	}
}

func TestPartitioner_EmptyStream(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	if err := p.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(sink.batches) != 0 {
		t.Errorf("flushes = %d, want 0", len(sink.batches))
	}
}

func TestPartitioner_CloseIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	addAll(t, p, rows("A", "S1", 2))

	ctx := context.Background()
	_ = p.Close(ctx)
	_ = p.Close(ctx)
	if len(sink.batches) != 1 {
		t.Errorf("flushes = %d, want exactly 1", len(sink.batches))
	}
	if err := p.Add(ctx, nil, rows("A", "S1", 1)[0]); err == nil {
		t.Error("Add() after Close() should fail")
	}
}

func TestPartitioner_SessionChangeSameAthlete(t *testing.T) {
	sink := &recordingSink{}
	p := New(sink)
	addAll(t, p, rows("A", "S1", 1))
	addAll(t, p, rows("A", "S1", 1))
	addAll(t, p, rows("A", "S2", 1))
	addAll(t, p, rows("A", "S1", 1))
	_ = p.Close(context.Background())

	if len(sink.batches) != 3 {
		t.Fatalf("flushes = %d, want 3", len(sink.batches))
	}
	if len(sink.batches[0].Rows) != 2 {
		t.Errorf("first flush rows = %d, want 2", len(sink.batches[0].Rows))
	}
}

func TestPartitioner_SinkErrorPropagates(t *testing.T) {
	sinkErr := errors.New("disk full")
	p := New(&recordingSink{err: sinkErr})
	addAll(t, p, rows("A", "S1", 1))

	err := p.Add(context.Background(), nil, rows("B", "S1", 1)[0])
	if !errors.Is(err, sinkErr) {
		t.Errorf("Add() error = %v, want %v", err, sinkErr)
	}
}

// flakySink fails its first Append and records every call.
type flakySink struct {
	calls   []Batch
	written []Batch
}

func (s *flakySink) Append(_ context.Context, batch Batch) error {
	s.calls = append(s.calls, batch)
	if len(s.calls) == 1 {
		return errors.New("disk full")
	}
	s.written = append(s.written, batch)
	return nil
}

func TestPartitioner_FailedFlushIsNotRepeated(t *testing.T) {
	sink := &flakySink{}
	p := New(sink)
	addAll(t, p, rows("A", "S1", 3))

	addErr := p.Add(context.Background(), nil, rows("B", "S1", 1)[0])
	if addErr == nil {
		t.Fatal("Expected flush error from Add")
	}

	if err := p.Add(context.Background(), nil, rows("B", "S1", 1)[0]); !errors.Is(err, addErr) {
		t.Errorf("Add() after failure = %v, want %v", err, addErr)
	}
	if err := p.Close(context.Background()); !errors.Is(err, addErr) {
		t.Errorf("Close() = %v, want %v", err, addErr)
	}

	if len(sink.calls) != 1 {
		t.Fatalf("sink appends = %d, want 1", len(sink.calls))
	}
	if sink.calls[0].Key != (Key{AthleteID: "A", SessionID: "S1"}) || len(sink.calls[0].Rows) != 3 {
		t.Errorf("append = %s with %d rows", sink.calls[0].Key, len(sink.calls[0].Rows))
	}
	if len(sink.written) != 0 {
		t.Errorf("written = %d batches, want 0", len(sink.written))
	}
}

func TestKeyOf(t *testing.T) {
	key, err := KeyOf(client.Row{"athleteid": json.Number("42"), "sessionid": "s-1"})
	if err != nil {
		t.Fatalf("KeyOf() error = %v", err)
	}
	if key != (Key{AthleteID: "42", SessionID: "s-1"}) {
		t.Errorf("KeyOf() = %+v", key)
	}

	if _, err := KeyOf(client.Row{"athleteid": "a"}); !errors.Is(err, ErrMissingPartitionKey) {
		t.Errorf("KeyOf(no session) = %v, want ErrMissingPartitionKey", err)
	}
	if _, err := KeyOf(client.Row{"sessionid": "s", "athleteid": nil}); !errors.Is(err, ErrMissingPartitionKey) {
		t.Errorf("KeyOf(nil athlete) = %v, want ErrMissingPartitionKey", err)
	}
}
