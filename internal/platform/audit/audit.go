// Package audit records one compliance entry for every successful mutation.
// Sinks are called inside the mutation's transaction, so a PGSink entry
// exists exactly when the change committed.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Record is a single audit entry. Before and After hold JSON snapshots of the
// resource; Before is null for creations.
type Record struct {
	ID           string          `json:"id"`
	ActorID      uuid.UUID       `json:"actor_id"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resource_type"`
	ResourceID   uuid.UUID       `json:"resource_id"`
	Before       json.RawMessage `json:"before,omitempty"`
	After        json.RawMessage `json:"after,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

type Sink interface {
	Record(ctx context.Context, rec Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec Record) error

func (f SinkFunc) Record(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// NewID returns a ULID for t. IDs sort in recording order, which keeps the
// audit trail of a resource readable without a secondary sort.
func NewID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// New builds a record, snapshotting before and after as JSON. A nil before or
// after is stored as null.
func New(actorID uuid.UUID, action, resourceType string, resourceID uuid.UUID, before, after interface{}, now time.Time) (Record, error) {
	rec := Record{
		ID:           NewID(now),
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Timestamp:    now.UTC(),
	}
	var err error
	if rec.Before, err = snapshot(before); err != nil {
		return Record{}, fmt.Errorf("snapshot before: %w", err)
	}
	if rec.After, err = snapshot(after); err != nil {
		return Record{}, fmt.Errorf("snapshot after: %w", err)
	}
	return rec, nil
}

func snapshot(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// LogSink writes records as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Record(_ context.Context, rec Record) error {
	s.logger.Info().
		Str("type", "consult_audit").
		Str("audit_id", rec.ID).
		Str("actor_id", rec.ActorID.String()).
		Str("action", rec.Action).
		Str("resource_type", rec.ResourceType).
		Str("resource_id", rec.ResourceID.String()).
		RawJSON("before", orNull(rec.Before)).
		RawJSON("after", orNull(rec.After)).
		Time("recorded_at", rec.Timestamp).
		Msg("audit")
	return nil
}

func orNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}

// Multi fans a record out to every sink and stops at the first failure.
type Multi []Sink

func (m Multi) Record(ctx context.Context, rec Record) error {
	for _, s := range m {
		if err := s.Record(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// Recorder is a Sink that keeps records in memory. Tests use it to assert
// which mutations were audited.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *Recorder) Record(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Actions returns the action names in recording order.
func (r *Recorder) Actions() []string {
	recs := r.Records()
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.Action
	}
	return out
}
