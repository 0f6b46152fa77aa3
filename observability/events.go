package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/hazyhaar/scel/idgen"
)

// Event kinds.
const (
	KindRender = "render"
	KindVerify = "verify"
	KindHealth = "health"
)

// Event outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeVerified = "verified"
	OutcomeMismatch = "mismatch"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Event is one render or verification outcome.
type Event struct {
	Kind       string
	Mode       string // "static" | "loop", empty for health
	Outcome    string
	TraceID    string
	ClientID   string
	DurationMs int64
	Detail     string // optional JSON
}

// Recorder writes events. The zero value is unusable; use NewRecorder.
type Recorder struct {
	db    *sql.DB
	newID idgen.Generator
	now   func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithEventIDGenerator sets a custom id generator for event rows.
func WithEventIDGenerator(gen idgen.Generator) RecorderOption {
	return func(r *Recorder) { r.newID = gen }
}

// WithRecorderClock overrides the wall clock.
func WithRecorderClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a recorder backed by the observability database.
func NewRecorder(db *sql.DB, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Record writes one event. Errors are logged, not returned, so a failing
// observability store never blocks the request path.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_events
			(event_id, kind, mode, outcome, trace_id, client_id, duration_ms, detail, created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		r.newID(), ev.Kind, ev.Mode, ev.Outcome, ev.TraceID, ev.ClientID,
		ev.DurationMs, ev.Detail, r.now().Unix())
	if err != nil {
		slog.Error("observability: event write failed", "error", err, "kind", ev.Kind)
	}
}

// Recent returns the newest events of the given kind, up to limit.
// An empty kind matches all kinds.
func (r *Recorder) Recent(ctx context.Context, kind string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, mode, outcome, trace_id, client_id, duration_ms, detail
		FROM verification_events
		WHERE (? = '' OR kind = ?)
		ORDER BY created_at DESC, event_id LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var traceID, clientID, detail sql.NullString
		var dur sql.NullInt64
		if err := rows.Scan(&ev.Kind, &ev.Mode, &ev.Outcome, &traceID, &clientID, &dur, &detail); err != nil {
			return nil, err
		}
		ev.TraceID = traceID.String
		ev.ClientID = clientID.String
		ev.DurationMs = dur.Int64
		ev.Detail = detail.String
		out = append(out, ev)
	}
	return out, rows.Err()
}
