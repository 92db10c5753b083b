package postgresql

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/liftedinit/credledger/internal/ledger"
	"github.com/liftedinit/credledger/internal/models"
)

//go:embed migrations/*
var migrationsFS embed.FS

const (
	NextIndexQuery = `
		SELECT "index"
		FROM api.blocks
		ORDER BY "index" DESC
		LIMIT 1
	`
	InsertBlockQuery = `
		INSERT INTO api.blocks ("index", previous_hash, current_hash, collection, collection_id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	// LockSubjectQuery takes a session-level advisory lock keyed by the subject.
	LockSubjectQuery = `SELECT pg_advisory_lock(hashtextextended($1, 0))`
	SubjectBlocksQuery = `
		SELECT ` + blockColumns + `
		FROM api.blocks
		WHERE collection = $1 AND collection_id = $2
		ORDER BY "index" ASC
	`
	CountSubjectBlocksQuery = `
		SELECT COUNT(*)
		FROM api.blocks
		WHERE collection = $1 AND collection_id = $2
	`
	SubjectsQuery = `
		SELECT DISTINCT collection, collection_id
		FROM api.blocks
		ORDER BY collection, collection_id
	`
	blockColumns = `id, "index", previous_hash, current_hash, collection, collection_id, user_id, created_at, updated_at`
)

type PostgresStore struct {
	pool *pgxpool.Pool
	db   *sql.DB
}

var (
	_ ledger.Backend       = (*PostgresStore)(nil)
	_ ledger.SubjectLocker = (*PostgresStore)(nil)
)

// DB returns the database/sql handle sharing the pool, for consumers such as the metrics collectors.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func NewPostgresStore(ctx context.Context, connString string, maxConns uint) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL connection string: %w", err)
	}

	if maxConns > math.MaxInt32 {
		return nil, fmt.Errorf("max connections exceeds maximum int32 value")
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	store := &PostgresStore{
		pool: pool,
		db:   stdlib.OpenDBFromPool(pool),
	}

	// Run migrations. This is idempotent.
	if err = store.runMigrations(); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Append(ctx context.Context, block *models.Block) (*models.Block, error) {
	if block.Index > math.MaxInt64 {
		return nil, ledger.NewStorageError("append", fmt.Errorf("index %d exceeds BIGINT range", block.Index))
	}

	var id int64
	err := s.pool.QueryRow(ctx, InsertBlockQuery,
		int64(block.Index),
		block.PreviousHash,
		block.CurrentHash,
		block.Data.Collection,
		block.Data.CollectionID,
		block.Data.UserID,
		block.CreatedAt,
		block.UpdatedAt,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return nil, ledger.ErrIndexConflict
		}
		return nil, ledger.NewStorageError("append", fmt.Errorf("failed to write block: %w", err))
	}

	stored := *block
	stored.ID = strconv.FormatInt(id, 10)
	return &stored, nil
}

func (s *PostgresStore) NextIndex(ctx context.Context) (uint64, error) {
	var last int64
	err := s.pool.QueryRow(ctx, NextIndexQuery).Scan(&last)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, ledger.NewStorageError("next index", fmt.Errorf("failed to get the latest block: %w", err))
	}
	return uint64(last) + 1, nil
}

func (s *PostgresStore) FindBySubject(ctx context.Context, subject models.Subject) ([]*models.Block, error) {
	rows, err := s.pool.Query(ctx, SubjectBlocksQuery, subject.Collection, subject.CollectionID)
	if err != nil {
		return nil, ledger.NewStorageError("find by subject", fmt.Errorf("failed to query blocks: %w", err))
	}
	blocks, err := scanBlocks(rows)
	if err != nil {
		return nil, ledger.NewStorageError("find by subject", err)
	}
	return blocks, nil
}

func (s *PostgresStore) CountBySubject(ctx context.Context, subject models.Subject) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, CountSubjectBlocksQuery, subject.Collection, subject.CollectionID).Scan(&count); err != nil {
		return 0, ledger.NewStorageError("count by subject", fmt.Errorf("failed to count blocks: %w", err))
	}
	return count, nil
}

// LockSubject holds an advisory lock on a dedicated connection until unlock is called.
// The connection lives outside the pool so lock holders never starve the queries they wait on.
func (s *PostgresStore) LockSubject(ctx context.Context, subject models.Subject) (func(), error) {
	conn, err := pgx.ConnectConfig(ctx, s.pool.Config().ConnConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock connection: %w", err)
	}
	if _, err := conn.Exec(ctx, LockSubjectQuery, subject.String()); err != nil {
		conn.Close(context.Background())
		return nil, fmt.Errorf("failed to lock subject %s: %w", subject, err)
	}
	return func() {
		// Ending the session releases the lock.
		if err := conn.Close(context.Background()); err != nil {
			slog.Warn("Failed to close subject lock connection", "subject", subject.String(), "error", err)
		}
	}, nil
}

// Find returns matching blocks ordered by ascending index. A non-positive limit disables the limit.
func (s *PostgresStore) Find(ctx context.Context, filter models.BlockFilter, skip, limit int64) ([]*models.Block, error) {
	where, args := whereClause(filter)
	query := `SELECT ` + blockColumns + ` FROM api.blocks` + where + ` ORDER BY "index" ASC`
	if skip > 0 {
		args = append(args, skip)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, ledger.NewStorageError("find", fmt.Errorf("failed to query blocks: %w", err))
	}
	blocks, err := scanBlocks(rows)
	if err != nil {
		return nil, ledger.NewStorageError("find", err)
	}
	return blocks, nil
}

func scanBlocks(rows pgx.Rows) ([]*models.Block, error) {
	defer rows.Close()

	var blocks []*models.Block
	for rows.Next() {
		var (
			b     models.Block
			id    int64
			index int64
		)
		if err := rows.Scan(&id, &index, &b.PreviousHash, &b.CurrentHash,
			&b.Data.Collection, &b.Data.CollectionID, &b.Data.UserID, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan block: %w", err)
		}
		b.ID = strconv.FormatInt(id, 10)
		b.Index = uint64(index)
		blocks = append(blocks, &b)
	}
	return blocks, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context, filter models.BlockFilter) (int64, error) {
	where, args := whereClause(filter)

	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api.blocks`+where, args...).Scan(&count); err != nil {
		return 0, ledger.NewStorageError("count", fmt.Errorf("failed to count blocks: %w", err))
	}
	return count, nil
}

func (s *PostgresStore) Subjects(ctx context.Context) ([]models.Subject, error) {
	rows, err := s.pool.Query(ctx, SubjectsQuery)
	if err != nil {
		return nil, ledger.NewStorageError("subjects", fmt.Errorf("failed to query subjects: %w", err))
	}
	defer rows.Close()

	var subjects []models.Subject
	for rows.Next() {
		var subject models.Subject
		if err := rows.Scan(&subject.Collection, &subject.CollectionID); err != nil {
			return nil, ledger.NewStorageError("subjects", fmt.Errorf("failed to scan subject: %w", err))
		}
		subjects = append(subjects, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, ledger.NewStorageError("subjects", err)
	}

	return subjects, nil
}

func whereClause(filter models.BlockFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if filter.Collection != "" {
		args = append(args, filter.Collection)
		conds = append(conds, fmt.Sprintf("collection = $%d", len(args)))
	}
	if filter.CollectionID != "" {
		args = append(args, filter.CollectionID)
		conds = append(conds, fmt.Sprintf("collection_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStore) runMigrations() error {
	slog.Info("Running PostgreSQL migrations...")

	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := migratepgx.WithInstance(stdlib.OpenDBFromPool(s.pool), &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", d, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	if err = m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func (s *PostgresStore) Close() error {
	slog.Info("Closing PostgreSQL connection pool")
	if err := s.db.Close(); err != nil {
		slog.Warn("Failed to close database handle", "error", err)
	}
	s.pool.Close()
	slog.Info("PostgreSQL connection pool closed")
	return nil
}
