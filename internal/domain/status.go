package domain

import "fmt"

// Status of an inscription at one phase.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusWaitlisted Status = "waitlisted"
)

var allStatuses = []Status{StatusPending, StatusApproved, StatusRejected, StatusWaitlisted}

// Statuses returns every known status in declaration order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func ParseStatus(s string) (Status, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusRejected || to == StatusWaitlisted
	case StatusWaitlisted:
		return to == StatusApproved || to == StatusRejected
	}
	return false
}
