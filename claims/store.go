package claims

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get and Delete when no row has the given id.
var ErrNotFound = errors.New("claims: not found")

const schema = `
CREATE TABLE IF NOT EXISTS sealed_claims (
	id             TEXT PRIMARY KEY,
	title          TEXT NOT NULL CHECK (length(title) > 0 AND length(title) <= 500),
	statement      TEXT NOT NULL DEFAULT '' CHECK (length(statement) <= 5000),
	subject        TEXT NOT NULL DEFAULT '' CHECK (length(subject) <= 500),
	keywords       TEXT NOT NULL DEFAULT '' CHECK (length(keywords) <= 2000),
	bundle_version TEXT NOT NULL,
	mode           TEXT NOT NULL CHECK (mode IN ('static', 'loop')),
	image_hash     TEXT NOT NULL CHECK (image_hash GLOB 'sha256:*' OR length(image_hash) = 64),
	animation_hash TEXT NOT NULL DEFAULT '',
	payload        TEXT NOT NULL CHECK (json_valid(payload)),
	sources        TEXT CHECK (sources IS NULL OR json_valid(sources)),
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sealed_claims_created ON sealed_claims(created_at DESC);
`

// Store persists sealed claims in SQLite.
type Store struct {
	db    *sql.DB
	newID func() string
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithIDFunc overrides the id generator. Tests use it for stable ids.
func WithIDFunc(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore wraps an open database. Call Init before first use.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init creates the sealed_claims table if it does not exist.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("claims: init schema: %w", err)
	}
	return nil
}

// Put validates and inserts a claim. The claim's ID and CreatedAt are
// assigned by the store when unset. A *ValidationError is returned when
// the row is structurally inadmissible; nothing is written in that case.
func (s *Store) Put(ctx context.Context, c *Claim) error {
	if err := Validate(c); err != nil {
		return err
	}
	if c.ID == "" {
		if s.newID == nil {
			return errors.New("claims: no id generator configured")
		}
		c.ID = s.newID()
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = s.now().Unix()
	}
	var sources any
	if len(c.Sources) > 0 {
		sources = string(c.Sources)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sealed_claims
			(id, title, statement, subject, keywords, bundle_version, mode,
			 image_hash, animation_hash, payload, sources, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.Statement, c.Subject, c.Keywords, c.BundleVersion,
		c.Mode, c.ImageHash, c.AnimationHash, string(c.Payload), sources, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("claims: insert %s: %w", c.ID, err)
	}
	return nil
}

// Get fetches one claim by id.
func (s *Store) Get(ctx context.Context, id string) (*Claim, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, statement, subject, keywords, bundle_version, mode,
		       image_hash, animation_hash, payload, sources, created_at
		FROM sealed_claims WHERE id = ?`, id)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("claims: get %s: %w", id, err)
	}
	return c, nil
}

// List returns up to limit claims, newest first. A non-positive limit
// defaults to 50.
func (s *Store) List(ctx context.Context, limit int) ([]*Claim, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, statement, subject, keywords, bundle_version, mode,
		       image_hash, animation_hash, payload, sources, created_at
		FROM sealed_claims ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("claims: list: %w", err)
	}
	defer rows.Close()

	var out []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("claims: list scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claims: list rows: %w", err)
	}
	return out, nil
}

// Delete removes one claim by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sealed_claims WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("claims: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claims: delete %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(r rowScanner) (*Claim, error) {
	var c Claim
	var payload string
	var sources sql.NullString
	err := r.Scan(&c.ID, &c.Title, &c.Statement, &c.Subject, &c.Keywords,
		&c.BundleVersion, &c.Mode, &c.ImageHash, &c.AnimationHash,
		&payload, &sources, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.Payload = []byte(payload)
	if sources.Valid {
		c.Sources = []byte(sources.String)
	}
	return &c, nil
}
