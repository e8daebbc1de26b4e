package notification

import (
	"context"
	"database/sql"
)

// MockRow implements Row for tests.
type MockRow struct {
	ScanFunc func(dest ...any) error
}

func (m *MockRow) Scan(dest ...any) error {
	if m.ScanFunc == nil {
		return sql.ErrNoRows
	}
	return m.ScanFunc(dest...)
}

// MockRows implements Rows for tests.
type MockRows struct {
	NextFunc  func() bool
	ScanFunc  func(dest ...any) error
	ErrFunc   func() error
	CloseFunc func() error
}

func (m *MockRows) Next() bool {
	if m.NextFunc == nil {
		return false
	}
	return m.NextFunc()
}

func (m *MockRows) Scan(dest ...any) error {
	if m.ScanFunc == nil {
		return sql.ErrNoRows
	}
	return m.ScanFunc(dest...)
}

func (m *MockRows) Err() error {
	if m.ErrFunc == nil {
		return nil
	}
	return m.ErrFunc()
}

func (m *MockRows) Close() error {
	if m.CloseFunc == nil {
		return nil
	}
	return m.CloseFunc()
}

// MockResult implements sql.Result for tests.
type MockResult struct {
	LastInsertIdFunc func() (int64, error)
	RowsAffectedFunc func() (int64, error)
}

func (m *MockResult) LastInsertId() (int64, error) {
	if m.LastInsertIdFunc == nil {
		return 0, nil
	}
	return m.LastInsertIdFunc()
}

func (m *MockResult) RowsAffected() (int64, error) {
	if m.RowsAffectedFunc == nil {
		return 1, nil
	}
	return m.RowsAffectedFunc()
}

// MockDB implements DB for tests. Unset functions behave like an empty
// database rather than panicking.
type MockDB struct {
	ExecContextFunc     func(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContextFunc    func(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRowContextFunc func(ctx context.Context, query string, args ...any) Row
}

func (m *MockDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if m.ExecContextFunc == nil {
		return &MockResult{}, nil
	}
	return m.ExecContextFunc(ctx, query, args...)
}

func (m *MockDB) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if m.QueryContextFunc == nil {
		return &MockRows{}, nil
	}
	return m.QueryContextFunc(ctx, query, args...)
}

func (m *MockDB) QueryRowContext(ctx context.Context, query string, args ...any) Row {
	if m.QueryRowContextFunc == nil {
		return &MockRow{}
	}
	return m.QueryRowContextFunc(ctx, query, args...)
}
