package mocks

import (
	"context"

	"github.com/BearBump/DispatchBox/internal/gateway"
	"github.com/BearBump/DispatchBox/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) List(ctx context.Context, table gateway.Table, q gateway.Query) ([]gateway.Row, error) {
	args := m.Called(ctx, table, q)
	rows, _ := args.Get(0).([]gateway.Row)
	return rows, args.Error(1)
}

func (m *MockGateway) Insert(ctx context.Context, table gateway.Table, row gateway.Row) (gateway.Row, error) {
	args := m.Called(ctx, table, row)
	out, _ := args.Get(0).(gateway.Row)
	return out, args.Error(1)
}

func (m *MockGateway) Update(ctx context.Context, table gateway.Table, key string, patch gateway.Row) (gateway.Row, error) {
	args := m.Called(ctx, table, key, patch)
	out, _ := args.Get(0).(gateway.Row)
	return out, args.Error(1)
}

func (m *MockGateway) Delete(ctx context.Context, table gateway.Table, key string) error {
	args := m.Called(ctx, table, key)
	return args.Error(0)
}

type MockUserCreator struct {
	mock.Mock
}

func (m *MockUserCreator) CreateUser(ctx context.Context, in models.UserCreate) (string, error) {
	args := m.Called(ctx, in)
	return args.String(0), args.Error(1)
}
