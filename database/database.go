// Package database is the Postgres persistence store for studies, their
// evaluation categories and the append-only update ledger.
package database

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

//go:embed schema.sql
var schemaSQL string

type Database struct {
	dsn  string
	Pool *pgxpool.Pool
	log  *logrus.Logger
}

func NewDatabase(dsn string, log *logrus.Logger) *Database {
	return &Database{
		dsn: dsn,
		log: log,
	}
}

// Connect adds a connection pool for the configured DSN.
func (db *Database) Connect(ctx context.Context) error {
	var err error
	db.Pool, err = pgxpool.New(ctx, db.dsn)
	if err != nil {
		return fmt.Errorf("unable to connect: %w", err)
	}
	return nil
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// InitializeSchema creates the tables if they do not exist yet.
func (db *Database) InitializeSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

func (db *Database) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction failed: %w", err)
	}
	return tx, nil
}

func (db *Database) rollbackOrCommit(ctx context.Context, tx pgx.Tx, err *error) {
	if *err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			db.log.Errorf("transaction rollback failed: %v (original error: %v)", rbErr, *err)
		}
	} else {
		if cmErr := tx.Commit(ctx); cmErr != nil {
			*err = fmt.Errorf("commit failed: %w", cmErr)
		}
	}
}
