package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/core-coin/settlement/internal/models"
	"github.com/core-coin/settlement/pkg/logger"
)

// Store is the gorm backed ledger store.
type Store struct {
	logger *logger.Logger

	Conn *gorm.DB
}

// NewPostgresDB connects to PostgreSQL and migrates the ledger schema.
func NewPostgresDB(user, password, dbname, host string, port int, logger *logger.Logger) (*Store, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		host, user, password, dbname, port)

	db, err := gorm.Open(postgres.Open(dsn), newGormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	store, err := newStore(db, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Successfully connected to PostgreSQL!")
	return store, nil
}

// NewSQLiteDB opens a sqlite ledger store. It serialises access through a
// single connection, which keeps in-memory databases shared and transactions
// from failing with SQLITE_BUSY.
func NewSQLiteDB(dsn string, logger *logger.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), newGormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database connection: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return newStore(db, logger)
}

func newGormConfig() *gorm.Config {
	// Configure GORM logger to suppress "record not found" messages
	gormLogger := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // Use standard logger
		gormLogger.Config{
			SlowThreshold:             200 * time.Millisecond, // Log queries slower than this
			LogLevel:                  gormLogger.Warn,        // Only log warnings or errors
			IgnoreRecordNotFoundError: true,                   // Suppress "record not found" errors
			Colorful:                  true,                   // Enable colorful logs
		},
	)
	return &gorm.Config{
		Logger: gormLogger,
		// Translate driver unique violations into gorm.ErrDuplicatedKey.
		TranslateError: true,
	}
}

func newStore(db *gorm.DB, logger *logger.Logger) (*Store, error) {
	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return &Store{Conn: db, logger: logger}, nil
}

// AutoMigrate creates or updates the ledger tables and their unique indexes.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Payment{},
		&models.Purchase{},
		&models.BenefitEvent{},
		&models.Commission{},
		&models.Package{},
		&models.User{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	return nil
}

// DB returns the underlying connection pool.
func (db *Store) DB() (*sql.DB, error) {
	return db.Conn.DB()
}

func (db *Store) Close() error {
	sqlDB, err := db.Conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.Close()
}

// WithinTransaction runs fn inside a database transaction. A nested call joins
// the outer transaction through a savepoint.
func (db *Store) WithinTransaction(ctx context.Context, fn func(repo models.Repository) error) error {
	return db.Conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{Conn: tx, logger: db.logger})
	})
}

// fail wraps a database error with the operation and key, and logs it so that
// no failed attempt goes unnoticed.
func (db *Store) fail(op, key string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewStoreError(op, key, models.ErrNotFound)
	}
	db.logger.Error("Ledger store operation failed", "op", op, "key", key, "error", err)
	return models.NewStoreError(op, key, err)
}

// Seed inserts catalog and referral records. Used by tests and local setups;
// in production these tables are written by their owning services.
func (db *Store) Seed(ctx context.Context, records ...interface{}) error {
	for _, record := range records {
		if err := db.Conn.WithContext(ctx).Create(record).Error; err != nil {
			return db.fail("seed", fmt.Sprintf("%T", record), err)
		}
	}
	return nil
}
