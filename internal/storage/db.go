// Package storage persists statements, transactions, rules and custom
// categories in SQLite through gorm.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/insightdelivered/statement-analyzer/internal/logger"
	"github.com/insightdelivered/statement-analyzer/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateUpload marks a statement whose filename was already
	// uploaded to the same account. Callers treat it as a warning.
	ErrDuplicateUpload = errors.New("statement with the same filename already uploaded to this account")
)

// Store wraps a gorm handle. Inside WithinTx the handle is the transaction.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path and migrates the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: &gormLog{log: logger.FromContext(ctx), slow: 200 * time.Millisecond},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(
		&models.User{},
		&models.Account{},
		&models.Statement{},
		&models.Transaction{},
		&models.AnalysisSummary{},
		&ruleRow{},
		&customCategoryRow{},
		&customRuleRow{},
		&conditionRow{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithinTx runs fn in a database transaction. Returning an error from fn
// rolls everything back.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error, what string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %d: %w", what, id, err)
}

// gormLog sends gorm's output through zerolog. Queries log at debug,
// slow queries and errors at warn.
type gormLog struct {
	log  zerolog.Logger
	slow time.Duration
}

func (g *gormLog) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *g
	if level == gormlogger.Silent {
		c.log = zerolog.Nop()
	}
	return &c
}

func (g *gormLog) Info(ctx context.Context, msg string, args ...interface{}) {
	g.log.Info().Msgf(msg, args...)
}

func (g *gormLog) Warn(ctx context.Context, msg string, args ...interface{}) {
	g.log.Warn().Msgf(msg, args...)
}

func (g *gormLog) Error(ctx context.Context, msg string, args ...interface{}) {
	g.log.Error().Msgf(msg, args...)
}

func (g *gormLog) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		g.log.Warn().Err(err).Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query failed")
	case elapsed > g.slow:
		sql, rows := fc()
		g.log.Warn().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("slow query")
	case g.log.GetLevel() <= zerolog.TraceLevel:
		sql, rows := fc()
		g.log.Trace().Dur("elapsed", elapsed).Int64("rows", rows).Str("sql", sql).Msg("query")
	}
}
