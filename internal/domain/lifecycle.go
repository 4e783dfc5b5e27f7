package domain

import "time"

type LifecycleState string

const (
	StateActive  LifecycleState = "active"
	StateDeleted LifecycleState = "deleted"
)

// Lifecycle is either Active or Deleted at a point in time. The zero value is active.
type Lifecycle struct {
	State     LifecycleState `json:"state" enum:"active,deleted"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

func Active() Lifecycle {
	return Lifecycle{State: StateActive}
}

// TimeLayout is the fixed-width UTC layout used for persisted timestamps.
// Lexical order of formatted values equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		// accept plain RFC3339 written by hand or older rows
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
	}
	return t.UTC(), nil
}
