package identity

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/sirupsen/logrus"
)

// SQLConfig holds configuration for SQL identity storage
type SQLConfig struct {
	// Driver is mysql, postgres or sqlite
	Driver string `json:"driver" yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=mysql postgres postgresql pgx sqlite sqlite3"`

	// DSN is the driver-specific connection string
	DSN string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`

	// Table stores one row per entry
	Table string `json:"table" yaml:"table" mapstructure:"table"`

	// MaxOpenConns for the connection pool
	MaxOpenConns int `json:"max_open_conns" yaml:"max_open_conns" mapstructure:"max_open_conns"`

	// OperationTimeout bounds each load or save
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout" mapstructure:"operation_timeout"`

	// Logger defaults to a fresh logrus logger
	Logger *logrus.Logger `json:"-" yaml:"-" mapstructure:"-"`
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

type sqlEntryRow struct {
	Name     string         `db:"name"`
	TargetID sql.NullString `db:"target_id"`
}

// SQLBackend stores entries as rows keyed by (namespace, name)
type SQLBackend struct {
	db     *sqlx.DB
	config *SQLConfig
	driver string
	logger *logrus.Logger
	closed bool
}

// driverName maps a configured driver to the registered database/sql driver
func driverName(driver string) (string, error) {
	switch driver {
	case "mysql":
		return "mysql", nil
	case "postgres", "postgresql", "pgx":
		return "pgx", nil
	case "sqlite", "sqlite3", "":
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("%w: sql driver %q", ErrUnsupportedBackend, driver)
	}
}

// NewSQLBackend opens the database and creates the table if needed
func NewSQLBackend(ctx context.Context, config *SQLConfig) (*SQLBackend, error) {
	if config == nil {
		return nil, fmt.Errorf("sql config is required")
	}
	if config.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	if config.Table == "" {
		config.Table = "identity_cache"
	}
	if !tableNamePattern.MatchString(config.Table) {
		return nil, fmt.Errorf("invalid table name %q", config.Table)
	}
	if config.OperationTimeout == 0 {
		config.OperationTimeout = 10 * time.Second
	}

	driver, err := driverName(config.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	switch {
	case driver == "sqlite3":
		// sqlite serializes writers; one connection avoids busy errors
		db.SetMaxOpenConns(1)
	case config.MaxOpenConns > 0:
		db.SetMaxOpenConns(config.MaxOpenConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	logger := config.Logger
	if logger == nil {
		logger = logrus.New()
	}
	backend := &SQLBackend{
		db:     db,
		config: config,
		driver: driver,
		logger: logger,
	}

	initCtx, cancel := context.WithTimeout(ctx, config.OperationTimeout)
	defer cancel()

	if err := db.PingContext(initCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}
	if err := backend.migrate(initCtx); err != nil {
		db.Close()
		return nil, err
	}

	backend.logger.WithFields(logrus.Fields{
		"driver": driver,
		"table":  config.Table,
	}).Info("Opened SQL identity backend")

	return backend, nil
}

// SetLogger replaces the backend logger
func (sb *SQLBackend) SetLogger(logger *logrus.Logger) {
	if logger != nil {
		sb.logger = logger
	}
}

func (sb *SQLBackend) migrate(ctx context.Context) error {
	if sb.driver == "sqlite3" {
		if _, err := sb.db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
			return fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	namespace VARCHAR(64) NOT NULL,
	name VARCHAR(255) NOT NULL,
	target_id VARCHAR(255) NULL,
	updated_at BIGINT NOT NULL,
	PRIMARY KEY (namespace, name)
)`, sb.config.Table)
	if _, err := sb.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create table %s: %w", sb.config.Table, err)
	}
	return nil
}

func (sb *SQLBackend) Name() string { return "sql/" + sb.driver }

// Load selects every row of the namespace; no rows means never persisted
func (sb *SQLBackend) Load(ctx context.Context, ns Namespace) (Entries, error) {
	if sb.closed {
		return nil, ErrBackendClosed
	}

	ctx, cancel := context.WithTimeout(ctx, sb.config.OperationTimeout)
	defer cancel()

	var rows []sqlEntryRow
	query := sb.db.Rebind(fmt.Sprintf("SELECT name, target_id FROM %s WHERE namespace = ?", sb.config.Table))
	if err := sb.db.SelectContext(ctx, &rows, query, string(ns)); err != nil {
		return nil, fmt.Errorf("failed to load namespace %s: %w", ns, err)
	}
	if len(rows) == 0 {
		return nil, ErrStoreNotFound
	}

	entries := make(Entries, len(rows))
	for _, row := range rows {
		if row.TargetID.Valid {
			id := row.TargetID.String
			entries[row.Name] = &id
		} else {
			entries[row.Name] = nil
		}
	}
	return entries, nil
}

// Save replaces the namespace rows in one transaction
func (sb *SQLBackend) Save(ctx context.Context, ns Namespace, entries Entries) error {
	if sb.closed {
		return ErrBackendClosed
	}

	ctx, cancel := context.WithTimeout(ctx, sb.config.OperationTimeout)
	defer cancel()

	tx, err := sb.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	deleteQuery := tx.Rebind(fmt.Sprintf("DELETE FROM %s WHERE namespace = ?", sb.config.Table))
	if _, err := tx.ExecContext(ctx, deleteQuery, string(ns)); err != nil {
		return fmt.Errorf("failed to clear namespace %s: %w", ns, err)
	}

	insertQuery := tx.Rebind(fmt.Sprintf(
		"INSERT INTO %s (namespace, name, target_id, updated_at) VALUES (?, ?, ?, ?)", sb.config.Table))
	stmt, err := tx.PreparexContext(ctx, insertQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	now := nowUnix()
	for _, name := range sortedNames(entries) {
		var target sql.NullString
		if id := entries[name]; id != nil {
			target = sql.NullString{String: *id, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, string(ns), name, target, now); err != nil {
			return fmt.Errorf("failed to insert %s/%s: %w", ns, name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit namespace %s: %w", ns, err)
	}

	sb.logger.WithFields(logrus.Fields{
		"namespace": ns,
		"entries":   len(entries),
	}).Debug("Saved identity namespace to SQL")
	return nil
}

// HealthCheck pings the database
func (sb *SQLBackend) HealthCheck(ctx context.Context) error {
	if sb.closed {
		return ErrBackendClosed
	}
	ctx, cancel := context.WithTimeout(ctx, sb.config.OperationTimeout)
	defer cancel()
	return sb.db.PingContext(ctx)
}

// Close closes the connection pool
func (sb *SQLBackend) Close() error {
	if sb.closed {
		return nil
	}
	sb.closed = true
	return sb.db.Close()
}
