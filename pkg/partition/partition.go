// Package partition groups a job's ordered row stream into contiguous runs
// of the same athlete and session and hands each run to a sink.
package partition

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/uplift-export-client/pkg/client"
	"github.com/Sternrassler/uplift-export-client/pkg/logging"
	"github.com/rs/zerolog"
)

// Row keys that form the partition key.
const (
	AthleteIDColumn = "athleteid"
	SessionIDColumn = "sessionid"
)

// ErrMissingPartitionKey is returned for a row without athleteid or sessionid.
var ErrMissingPartitionKey = errors.New("row is missing its partition key")

// Key identifies one output group.
type Key struct {
	AthleteID string
	SessionID string
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.AthleteID + "/" + k.SessionID
}

// KeyOf extracts the partition key of a row.
func KeyOf(row client.Row) (Key, error) {
	athlete, ok := row[AthleteIDColumn]
	if !ok || athlete == nil {
		return Key{}, fmt.Errorf("%w: %s", ErrMissingPartitionKey, AthleteIDColumn)
	}
	session, ok := row[SessionIDColumn]
	if !ok || session == nil {
		return Key{}, fmt.Errorf("%w: %s", ErrMissingPartitionKey, SessionIDColumn)
	}
	return Key{AthleteID: fmt.Sprint(athlete), SessionID: fmt.Sprint(session)}, nil
}

// Batch is one contiguous run of rows sharing a key.
type Batch struct {
	Key Key
	// Columns is the preferred column order; empty means derive from the rows.
	Columns []string
	Rows    []client.Row
}

// Sink persists batches. Append must create the athlete scope and the session
// resource as needed and write a header only when creating the resource.
type Sink interface {
	Append(ctx context.Context, batch Batch) error
}

// Stats summarises a partitioner's output.
type Stats struct {
	Groups int
	Rows   int
}

// Partitioner buffers the open run and flushes it when the key changes.
// It is used by a single goroutine for one job.
type Partitioner struct {
	sink    Sink
	logger  zerolog.Logger
	current *Key
	columns []string
	buffer  []client.Row
	stats   Stats
	closed  bool
	// err is the first flush failure; the failed run is not retried.
	err error
}

// New creates a partitioner writing to sink.
func New(sink Sink) *Partitioner {
	return &Partitioner{
		sink:   sink,
		logger: logging.NewLogger("partition"),
	}
}

// Add appends row to the open run, flushing the previous run first when the
// row starts a new key. columns is the schema order of the row's page.
func (p *Partitioner) Add(ctx context.Context, columns []string, row client.Row) error {
	if p.closed {
		return errors.New("partitioner is closed")
	}
	if p.err != nil {
		return p.err
	}

	key, err := KeyOf(row)
	if err != nil {
		return err
	}

	if p.current != nil && *p.current != key {
		if err := p.flush(ctx); err != nil {
			return err
		}
	}

	if len(p.buffer) == 0 && len(columns) > 0 {
		p.columns = columns
	}
	p.buffer = append(p.buffer, row)
	p.current = &key
	return nil
}

// AddPage adds every row of a page in order.
func (p *Partitioner) AddPage(ctx context.Context, page *client.ResultPage) error {
	columns := page.ColumnNames()
	for _, row := range page.Rows {
		if err := p.Add(ctx, columns, row); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes the remaining run. Calling it again is a no-op. After a
// failed flush it returns that failure and writes nothing.
func (p *Partitioner) Close(ctx context.Context) error {
	if p.closed {
		return p.err
	}
	p.closed = true
	if p.err != nil {
		return p.err
	}
	return p.flush(ctx)
}

// Stats returns the groups and rows flushed so far.
func (p *Partitioner) Stats() Stats {
	return p.stats
}

func (p *Partitioner) flush(ctx context.Context) error {
	if len(p.buffer) == 0 {
		return nil
	}

	batch := Batch{Key: *p.current, Columns: p.columns, Rows: p.buffer}
	if err := p.sink.Append(ctx, batch); err != nil {
		p.err = fmt.Errorf("flush %s: %w", batch.Key, err)
		p.buffer = nil
		p.columns = nil
		return p.err
	}

	p.stats.Groups++
	p.stats.Rows += len(batch.Rows)
	p.logger.Debug().
		Str("athlete_id", batch.Key.AthleteID).
		Str("session_id", batch.Key.SessionID).
		Int("rows", len(batch.Rows)).
		Msg("Flushed group")

	p.buffer = nil
	p.columns = nil
	return nil
}
