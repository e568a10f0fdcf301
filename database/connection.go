// Package database provides PostgreSQL persistence for strategies,
// executions, and backtest results via GORM.
package database

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM connection handle.
type DB struct {
	conn *gorm.DB
}

// Connect opens a PostgreSQL connection with GORM query logging silenced.
func Connect(host string, port int, user, password, dbname, sslmode string) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, dbname, sslmode)

	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// InitSchema migrates the tables used by the pipeline.
func (db *DB) InitSchema() error {
	if err := db.conn.AutoMigrate(&Strategy{}, &Execution{}, &BacktestRun{}); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying connection: %w", err)
	}
	return sqlDB.Close()
}

// Strategies returns the strategy repository.
func (db *DB) Strategies() *StrategyRepository {
	return &StrategyRepository{db: db.conn}
}

// Executions returns the execution repository.
func (db *DB) Executions() *ExecutionRepository {
	return &ExecutionRepository{db: db.conn}
}

// Backtests returns the backtest run repository.
func (db *DB) Backtests() *BacktestRepository {
	return &BacktestRepository{db: db.conn}
}
