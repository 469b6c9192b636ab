package platform

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPermission means the delivery channel refused us outright
	// (revoked bot token, blocked chat). It blocks the whole feature,
	// so scheduling propagates it instead of swallowing it.
	ErrPermission = errors.New("notification permission denied")

	ErrStopped = errors.New("notifier stopped")
)

// Message is the rendered notification content handed to the platform.
type Message struct {
	Title    string
	Body     string
	Emoji    string
	Priority int // 0 low .. 10 high
	Meta     map[string]string
}

// Request asks the platform to deliver a message at a point in time.
type Request struct {
	ID      string
	Message Message
	At      time.Time
}

// Pending describes a not-yet-fired request.
type Pending struct {
	ID string
	At time.Time
}

type OutcomeKind string

const (
	OutcomeDelivered OutcomeKind = "delivered"
	OutcomeOpened    OutcomeKind = "opened"
	OutcomeDismissed OutcomeKind = "dismissed"
	OutcomeAction    OutcomeKind = "action"
)

// Outcome reports what happened to a delivered request. Opened and
// dismissed outcomes carry the tap timestamp; action outcomes carry the
// action name.
type Outcome struct {
	RequestID string
	Kind      OutcomeKind
	At        time.Time
	Action    string
}

// Notifier is the platform notification primitive the engine schedules
// against. Best-effort: a request scheduled while the process is down
// is simply never delivered.
type Notifier interface {
	ScheduleAt(ctx context.Context, req Request) (deliveryID string, err error)
	Cancel(ctx context.Context, id string) error
	ListPending(ctx context.Context) ([]Pending, error)
	SetOutcomeHandler(fn func(Outcome))
}

// Deliverer performs the actual send when a request fires.
type Deliverer interface {
	Deliver(ctx context.Context, req Request) error
}

// OutcomeSource is implemented by deliverers that can report user
// responses (taps) back to the notifier.
type OutcomeSource interface {
	SetOutcomeHandler(fn func(Outcome))
}

// PermissionChecker is implemented by deliverers that can detect a
// revoked channel up front, before any timer is armed.
type PermissionChecker interface {
	Permitted(ctx context.Context) error
}
