package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/pharmagpt/internal/interaction"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultSQLitePath = "./pharma_interactions.db"
)

// timeLayout is fixed width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS interactions (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id         TEXT NOT NULL DEFAULT '',
	hcp_name           TEXT,
	interaction_type   TEXT,
	interaction_date   TEXT,
	interaction_time   TEXT,
	products_discussed TEXT,
	topics_discussed   TEXT,
	materials_shared   TEXT,
	hcp_sentiment      TEXT,
	follow_up_actions  TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_hcp_name ON interactions (hcp_name);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS interactions (
	id                 BIGSERIAL PRIMARY KEY,
	request_id         TEXT NOT NULL DEFAULT '',
	hcp_name           TEXT,
	interaction_type   TEXT,
	interaction_date   TEXT,
	interaction_time   TEXT,
	products_discussed JSONB,
	topics_discussed   TEXT,
	materials_shared   JSONB,
	hcp_sentiment      TEXT,
	follow_up_actions  TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_interactions_hcp_name ON interactions (hcp_name);
`

const selectColumns = `id, request_id, hcp_name, interaction_type, interaction_date, interaction_time,
	products_discussed, topics_discussed, materials_shared, hcp_sentiment, follow_up_actions,
	created_at, updated_at`

// Store persists interactions through sqlx. Queries are written with ?
// placeholders and rebound for the active driver.
type Store struct {
	db     *sqlx.DB
	driver string
	clock  func() time.Time
}

type Options struct {
	Driver string
	DSN    string
	Clock  func() time.Time
}

func Open(ctx context.Context, opts Options) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" {
		driver = DriverSQLite
	}
	dsn := opts.DSN
	var schema string
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = DefaultSQLitePath
		}
		dsn = sqliteDSN(dsn)
		schema = sqliteSchema
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("postgres dsn is required")
		}
		schema = postgresSchema
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Store{db: db, driver: driver, clock: clock}, nil
}

func sqliteDSN(path string) string {
	path = strings.TrimPrefix(path, "sqlite:///")
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)"
}

func (s *Store) Driver() string { return s.driver }

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type row struct {
	ID              int64          `db:"id"`
	RequestID       string         `db:"request_id"`
	HCPName         sql.NullString `db:"hcp_name"`
	InteractionType sql.NullString `db:"interaction_type"`
	Date            sql.NullString `db:"interaction_date"`
	Time            sql.NullString `db:"interaction_time"`
	Products        sql.NullString `db:"products_discussed"`
	Topics          sql.NullString `db:"topics_discussed"`
	Materials       sql.NullString `db:"materials_shared"`
	Sentiment       sql.NullString `db:"hcp_sentiment"`
	FollowUpActions sql.NullString `db:"follow_up_actions"`
	CreatedAt       string         `db:"created_at"`
	UpdatedAt       string         `db:"updated_at"`
}

// InsertInteraction writes one row inside a transaction and returns the
// record with its assigned id and timestamps.
func (s *Store) InsertInteraction(ctx context.Context, rec interaction.Record) (interaction.Record, error) {
	now := s.clock().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return interaction.Record{}, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	q := s.db.Rebind(`INSERT INTO interactions (request_id, hcp_name, interaction_type, interaction_date, interaction_time,
		products_discussed, topics_discussed, materials_shared, hcp_sentiment, follow_up_actions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	err = tx.QueryRowxContext(ctx, q,
		rec.RequestID,
		nullString(rec.HCPName),
		nullString(rec.InteractionType),
		nullString(rec.Date),
		nullString(rec.Time),
		nullableJSON(rec.Products),
		nullString(rec.Topics),
		nullableJSON(rec.Materials),
		nullString(rec.Sentiment),
		nullString(rec.FollowUpActions),
		timeToString(rec.CreatedAt),
		timeToString(rec.UpdatedAt),
	).Scan(&rec.ID)
	if err != nil {
		return interaction.Record{}, fmt.Errorf("insert interaction: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return interaction.Record{}, fmt.Errorf("commit insert: %w", err)
	}
	return rec, nil
}

// ListInteractions returns rows newest first. An empty HCPName lists every
// row.
func (s *Store) ListInteractions(ctx context.Context, filter interaction.ListFilter) ([]interaction.Record, error) {
	var (
		where string
		args  []any
	)
	if filter.HCPName != "" {
		where = " WHERE hcp_name = ?"
		args = append(args, filter.HCPName)
	}
	q := "SELECT " + selectColumns + " FROM interactions" + where + " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	out := make([]interaction.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) GetInteraction(ctx context.Context, id int64) (interaction.Record, error) {
	var r row
	q := s.db.Rebind("SELECT " + selectColumns + " FROM interactions WHERE id = ?")
	if err := s.db.GetContext(ctx, &r, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return interaction.Record{}, interaction.ErrNotFound
		}
		return interaction.Record{}, fmt.Errorf("get interaction %d: %w", id, err)
	}
	return r.record()
}

func (r row) record() (interaction.Record, error) {
	rec := interaction.Record{
		ID:              r.ID,
		RequestID:       r.RequestID,
		HCPName:         stringPtr(r.HCPName),
		InteractionType: stringPtr(r.InteractionType),
		Date:            stringPtr(r.Date),
		Time:            stringPtr(r.Time),
		Topics:          stringPtr(r.Topics),
		Sentiment:       stringPtr(r.Sentiment),
		FollowUpActions: stringPtr(r.FollowUpActions),
	}
	if r.Products.Valid && r.Products.String != "" {
		if err := json.Unmarshal([]byte(r.Products.String), &rec.Products); err != nil {
			return rec, fmt.Errorf("decode products_discussed for %d: %w", r.ID, err)
		}
	}
	if r.Materials.Valid && r.Materials.String != "" {
		if err := json.Unmarshal([]byte(r.Materials.String), &rec.Materials); err != nil {
			return rec, fmt.Errorf("decode materials_shared for %d: %w", r.ID, err)
		}
	}
	var err error
	if rec.CreatedAt, err = time.Parse(timeLayout, r.CreatedAt); err != nil {
		return rec, fmt.Errorf("decode created_at for %d: %w", r.ID, err)
	}
	if rec.UpdatedAt, err = time.Parse(timeLayout, r.UpdatedAt); err != nil {
		return rec, fmt.Errorf("decode updated_at for %d: %w", r.ID, err)
	}
	return rec, nil
}

func timeToString(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullableJSON[T any](v []T) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
