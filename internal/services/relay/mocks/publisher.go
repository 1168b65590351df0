package mocks

import (
	"context"

	"github.com/BearBump/DispatchBox/internal/changefeed"
	"github.com/stretchr/testify/mock"
)

type Publisher struct {
	mock.Mock
}

func (m *Publisher) PublishChange(ctx context.Context, ev changefeed.Event) error {
	args := m.Called(ctx, ev)
	return args.Error(0)
}
