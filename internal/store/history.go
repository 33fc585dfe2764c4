package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"bybit-tpsl-sync/internal/bybit"
	"bybit-tpsl-sync/internal/reconcile"
)

// ReconciliationEvent is one persisted reconciliation attempt: the intent
// that drove it and the report it produced.
type ReconciliationEvent struct {
	ID        int64                    `json:"id"`
	Symbol    string                   `json:"symbol"`
	Side      bybit.PositionSide       `json:"side"`
	Outcome   reconcile.Outcome        `json:"outcome"`
	Intent    reconcile.PositionIntent `json:"intent"`
	Report    reconcile.Report         `json:"report"`
	CreatedAt time.Time                `json:"created_at"`
}

// HistoryStore records reconciliation attempts for operator review.
type HistoryStore interface {
	Record(ctx context.Context, event *ReconciliationEvent) error
	ListBySymbol(ctx context.Context, symbol string, limit int) ([]*ReconciliationEvent, error)
}

// PostgresConfig holds database connection settings.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

var _ HistoryStore = (*DB)(nil)

// NewDB connects to PostgreSQL and verifies the connection.
func NewDB(cfg PostgresConfig, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "history_store").Logger()
	log.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// Close closes the database connection.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// RunMigrations creates the reconciliation history schema.
func (db *DB) RunMigrations(ctx context.Context) error {
	if db.Pool == nil {
		return nil
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS reconciliation_events (
			id SERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			side VARCHAR(5) NOT NULL,
			outcome VARCHAR(10) NOT NULL,
			intent JSONB NOT NULL,
			report JSONB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recon_events_symbol ON reconciliation_events(symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_recon_events_created_at ON reconciliation_events(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	db.logger.Info().Msg("Database migrations complete")
	return nil
}

// Record inserts a reconciliation event.
func (db *DB) Record(ctx context.Context, event *ReconciliationEvent) error {
	if db.Pool == nil {
		return nil // No database configured
	}

	intentJSON, err := json.Marshal(event.Intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}
	reportJSON, err := json.Marshal(event.Report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	query := `
		INSERT INTO reconciliation_events (symbol, side, outcome, intent, report)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err = db.Pool.QueryRow(ctx, query,
		event.Symbol,
		string(event.Side),
		string(event.Outcome),
		intentJSON,
		reportJSON,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record reconciliation event: %w", err)
	}

	return nil
}

// ListBySymbol returns the most recent events for a symbol, newest first.
func (db *DB) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*ReconciliationEvent, error) {
	if db.Pool == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, symbol, side, outcome, intent, report, created_at
		FROM reconciliation_events
		WHERE symbol = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := db.Pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation events: %w", err)
	}
	defer rows.Close()

	var events []*ReconciliationEvent
	for rows.Next() {
		var (
			event      ReconciliationEvent
			side       string
			outcome    string
			intentJSON []byte
			reportJSON []byte
		)
		if err := rows.Scan(&event.ID, &event.Symbol, &side, &outcome, &intentJSON, &reportJSON, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation event: %w", err)
		}
		event.Side = bybit.PositionSide(side)
		event.Outcome = reconcile.Outcome(outcome)
		if err := json.Unmarshal(intentJSON, &event.Intent); err != nil {
			return nil, fmt.Errorf("failed to unmarshal intent for event %d: %w", event.ID, err)
		}
		if err := json.Unmarshal(reportJSON, &event.Report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal report for event %d: %w", event.ID, err)
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// MemoryHistory is an in-process HistoryStore for tests and for running
// without Postgres configured.
type MemoryHistory struct {
	nextID int64
	events []*ReconciliationEvent
}

// NewMemoryHistory creates an empty in-memory history store.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

var _ HistoryStore = (*MemoryHistory)(nil)

func (m *MemoryHistory) Record(ctx context.Context, event *ReconciliationEvent) error {
	m.nextID++
	event.ID = m.nextID
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryHistory) ListBySymbol(ctx context.Context, symbol string, limit int) ([]*ReconciliationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []*ReconciliationEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].Symbol == symbol {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}
