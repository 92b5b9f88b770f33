package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	d "github.com/Mujojo03/BitMarket-sub000/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

var ErrSessionNotFound = errors.New("checkout session not found")

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// RepoInterface is the durable side of checkout: the transition journal
// and the outbox it feeds.
type RepoInterface interface {
	Close() error
	RunMigrations(*Credentials) error
	RecordTransition(ctx context.Context, t *d.Transition) error
	GetSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
	GetTransitions(ctx context.Context, sessionID string) ([]d.TransitionEntry, error)
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, eventID string) error
	GetStuckSessions(ctx context.Context, olderThan time.Duration) ([]*CheckoutSession, error)
	FlagForReconciliation(ctx context.Context, sessionID string, events ...d.OutboxMessage) error
}

type Repository struct {
	db  *sql.DB
	log *slog.Logger
}

// Connect opens and pings a postgres pool.
func Connect(cred *Credentials) (*sql.DB, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return db, nil
}

// Migrate applies the migrations in dir, tracking them in table.
func Migrate(db *sql.DB, dir, table string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", dir),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}
	return nil
}

func NewRepository(cred *Credentials, log *slog.Logger) (*Repository, error) {
	db, err := Connect(cred)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	log.Info("connected to postgres", "host", cred.Host, "database", cred.DBName)
	return &Repository{db: db, log: log.With("component", "checkout_repository")}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	return Migrate(r.db, cred.MigrationsDirPath, "checkout_schema_migrations")
}

// DB exposes the pool so other stores can share it.
func (r *Repository) DB() *sql.DB {
	return r.db
}

func (r *Repository) Close() error {
	return r.db.Close()
}
