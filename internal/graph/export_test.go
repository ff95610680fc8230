package graph

import (
	"context"
	"database/sql"
	"errors"
)

// DB exposes the internal *sql.DB for test helpers in graph_test.
// This file only compiles during `go test`.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// ErrInjected is returned by FailAll.
var ErrInjected = errors.New("injected store failure")

// FailAll makes every subsequent query and exec fail, simulating an
// unreachable store.
func (s *SQLiteStore) FailAll() {
	s.hooks.exec = func(context.Context, execer, string, ...any) (sql.Result, error) {
		return nil, ErrInjected
	}
	s.hooks.query = func(context.Context, queryer, string, ...any) (*sql.Rows, error) {
		return nil, ErrInjected
	}
}
