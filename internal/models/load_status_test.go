package models

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to LoadStatus
		ok       bool
	}{
		{LoadStatusPending, LoadStatusAssigned, true},
		{LoadStatusAssigned, LoadStatusInTransit, true},
		{LoadStatusInTransit, LoadStatusDelivered, true},
		{LoadStatusInTransit, LoadStatusCancelled, true},
		{LoadStatusAssigned, LoadStatusPending, true},
		{LoadStatusInTransit, LoadStatusPending, true},
		{LoadStatusPending, LoadStatusPending, true},
		{LoadStatusPending, LoadStatusDelivered, false},
		{LoadStatusAssigned, LoadStatusDelivered, false},
		{LoadStatusDelivered, LoadStatusPending, false},
		{LoadStatusCancelled, LoadStatusAssigned, false},
		{LoadStatus("Lost"), LoadStatusPending, false},
	}
	for _, c := range cases {
		require.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestCheckTransition_WrapsSentinel(t *testing.T) {
	err := CheckTransition(LoadStatusDelivered, LoadStatusInTransit)
	require.Error(t, err)
	require.Equal(t, ErrIllegalTransition, errors.Cause(err))
	require.NoError(t, CheckTransition(LoadStatusPending, LoadStatusAssigned))
}

func TestLoadStatusHelpers(t *testing.T) {
	st, ok := ParseLoadStatus("In Transit")
	require.True(t, ok)
	require.Equal(t, LoadStatusInTransit, st)
	_, ok = ParseLoadStatus("in transit")
	require.False(t, ok)

	require.True(t, LoadStatusDelivered.Terminal())
	require.False(t, LoadStatusPending.Terminal())
	require.True(t, LoadStatusAssigned.Ongoing())
	require.False(t, LoadStatusPending.Ongoing())

	next := NextStatuses(LoadStatusAssigned)
	require.ElementsMatch(t, []LoadStatus{LoadStatusPending, LoadStatusInTransit, LoadStatusCancelled}, next)
	next[0] = "mutated"
	require.Contains(t, NextStatuses(LoadStatusAssigned), LoadStatusPending)
}
