package sql

import (
	"context"
	"database/sql/driver"

	"github.com/stretchr/testify/mock"
)

// mockStmt is a driver.Stmt with context support.
type mockStmt struct {
	mock.Mock
}

func (m *mockStmt) Close() error {
	return m.Called().Error(0)
}

func (m *mockStmt) NumInput() int {
	return m.Called().Int(0)
}

func (m *mockStmt) Exec(args []driver.Value) (driver.Result, error) {
	ret := m.Called(args)
	res, _ := ret.Get(0).(driver.Result)
	return res, ret.Error(1)
}

func (m *mockStmt) Query(args []driver.Value) (driver.Rows, error) {
	ret := m.Called(args)
	rows, _ := ret.Get(0).(driver.Rows)
	return rows, ret.Error(1)
}

func (m *mockStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	ret := m.Called(ctx, args)
	res, _ := ret.Get(0).(driver.Result)
	return res, ret.Error(1)
}

func (m *mockStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	ret := m.Called(ctx, args)
	rows, _ := ret.Get(0).(driver.Rows)
	return rows, ret.Error(1)
}

// mockCheckerStmt is a mockStmt that converts its own arguments.
type mockCheckerStmt struct {
	mockStmt
}

func (m *mockCheckerStmt) CheckNamedValue(nv *driver.NamedValue) error {
	return m.Called(nv).Error(0)
}

type mockTx struct {
	mock.Mock
}

func (m *mockTx) Commit() error {
	return m.Called().Error(0)
}

func (m *mockTx) Rollback() error {
	return m.Called().Error(0)
}
