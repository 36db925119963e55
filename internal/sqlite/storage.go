package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/guilherme-santos/smartcal"
)

const DriverName = "sqlite3"

type Storage struct {
	db  *sqlx.DB
	now func() time.Time
}

// DSN enables foreign keys, account deletion relies on cascades.
func DSN(filename string) string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filename)
}

func NewStorage(db *sql.DB) *Storage {
	s := &Storage{
		db:  sqlx.NewDb(db, DriverName),
		now: time.Now,
	}
	err := s.RunMigrations()
	if err != nil {
		panic(fmt.Sprintf("sqlite: running migrations: %v", err))
	}
	return s
}

// Open opens filename and runs the migrations.
func Open(filename string) (*Storage, error) {
	db, err := sql.Open(DriverName, DSN(filename))
	if err != nil {
		return nil, err
	}
	s := &Storage{
		db:  sqlx.NewDb(db, DriverName),
		now: time.Now,
	}
	if err := s.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %v", err)
	}
	return s, nil
}

// WithClock replaces the clock used for timestamps and cache expiry.
func (s *Storage) WithClock(now func() time.Time) *Storage {
	s.now = now
	return s
}

func (s Storage) Close() error {
	return s.db.Close()
}

func (s Storage) AddUser(ctx context.Context, id, email, timezone string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, timezone, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET email = excluded.email, timezone = excluded.timezone;
	`, id, email, timezone, s.now().UTC().Format(timeLayout))
	return err
}

// DeleteUser removes the user together with their calendars, events and credentials.
func (s Storage) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return smartcal.ErrNotFound
	}
	return nil
}

func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return smartcal.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return smartcal.WrapError(smartcal.KindDuplicate, err, "already exists")
		}
	}
	return err
}
