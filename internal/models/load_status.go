package models

import "github.com/pkg/errors"

type LoadStatus string

const (
	LoadStatusPending   LoadStatus = "Pending"
	LoadStatusAssigned  LoadStatus = "Assigned"
	LoadStatusInTransit LoadStatus = "In Transit"
	LoadStatusDelivered LoadStatus = "Delivered"
	LoadStatusCancelled LoadStatus = "Cancelled"
)

var ErrIllegalTransition = errors.New("illegal load status transition")

// Delivered and Cancelled are terminal.
var loadTransitions = map[LoadStatus][]LoadStatus{
	LoadStatusPending:   {LoadStatusAssigned, LoadStatusCancelled},
	LoadStatusAssigned:  {LoadStatusPending, LoadStatusInTransit, LoadStatusCancelled},
	LoadStatusInTransit: {LoadStatusPending, LoadStatusDelivered, LoadStatusCancelled},
	LoadStatusDelivered: nil,
	LoadStatusCancelled: nil,
}

func (s LoadStatus) Valid() bool {
	_, ok := loadTransitions[s]
	return ok
}

func (s LoadStatus) Terminal() bool {
	return s.Valid() && len(loadTransitions[s]) == 0
}

// Ongoing reports whether a driver is currently working the load.
func (s LoadStatus) Ongoing() bool {
	return s == LoadStatusAssigned || s == LoadStatusInTransit
}

func ParseLoadStatus(s string) (LoadStatus, bool) {
	st := LoadStatus(s)
	return st, st.Valid()
}

// NextStatuses lists the statuses reachable from s in one step.
func NextStatuses(s LoadStatus) []LoadStatus {
	next := loadTransitions[s]
	out := make([]LoadStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is allowed. Writing the same status is always allowed.
func CanTransition(from, to LoadStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	for _, s := range loadTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func CheckTransition(from, to LoadStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return errors.Wrapf(ErrIllegalTransition, "%q -> %q", from, to)
}
