package engine

import (
	"errors"
	"time"

	"homepulse/internal/services/content"
)

var (
	// ErrDisabled means notifications as a whole or the relevant
	// category is switched off. Expected, not a failure.
	ErrDisabled = errors.New("notifications disabled")

	// ErrNotFound means no schedule with the given id exists.
	ErrNotFound = errors.New("schedule not found")
)

// ReminderKind selects which task reminder offset to compute.
type ReminderKind string

const (
	ReminderAdvance ReminderKind = "advance" // due_date - 3d
	ReminderDue     ReminderKind = "due"     // due_date - 1d
	ReminderOverdue ReminderKind = "overdue" // due_date
)

// reminderOrder is the fixed evaluation order for a task's reminder set.
var reminderOrder = []ReminderKind{ReminderAdvance, ReminderDue, ReminderOverdue}

func reminderOffset(kind ReminderKind) time.Duration {
	switch kind {
	case ReminderAdvance:
		return 72 * time.Hour
	case ReminderDue:
		return 24 * time.Hour
	default:
		return 0
	}
}

// EquipmentAlertKind selects the equipment alert flavor.
type EquipmentAlertKind string

const (
	AlertServiceDue      EquipmentAlertKind = "service_due"
	AlertAttentionNeeded EquipmentAlertKind = "attention_needed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func (p Priority) platform() int {
	switch p {
	case PriorityHigh:
		return 8
	case PriorityLow:
		return 2
	default:
		return 5
	}
}

// TimingMode records how the fire time was chosen.
type TimingMode string

const (
	TimingExact     TimingMode = "exact"     // computed from entity dates
	TimingImmediate TimingMode = "immediate" // now + small pad
)

// Task is the slice of the task entity the engine needs.
type Task struct {
	ID      string
	Name    string
	DueDate time.Time
}

// Equipment is the slice of the equipment entity the engine needs.
type Equipment struct {
	ID             string
	Name           string
	NextServiceDue time.Time
	NeedsAttention bool
}

// Schedule is one persisted future (or near-immediate) delivery.
type Schedule struct {
	ID                 string          `json:"id"`
	Type               content.Type    `json:"type"`
	Priority           Priority        `json:"priority"`
	Timing             TimingMode      `json:"timing"`
	ScheduledFor       time.Time       `json:"scheduledFor"`
	Content            content.Message `json:"content"`
	RelatedTaskID      string          `json:"relatedTaskId,omitempty"`
	RelatedEquipmentID string          `json:"relatedEquipmentId,omitempty"`
	Delivered          bool            `json:"delivered"`
	Opened             bool            `json:"opened"`
	Dismissed          bool            `json:"dismissed"`
	DeliveredAt        *time.Time      `json:"deliveredAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

// resolved reports whether the schedule reached a terminal outcome.
func (s *Schedule) resolved() bool { return s.Opened || s.Dismissed }

// WeeklyCount tracks sends against the cap for one ISO week.
type WeeklyCount struct {
	Week  string `json:"week"` // "YYYY-Www"
	Count int    `json:"count"`
}

// Tracker is the engagement sink the engine feeds outcomes into.
// Implemented by engage.Tracker; fakes implement it in tests.
type Tracker interface {
	TrackSent(id string, typ content.Type, at time.Time)
	TrackOpened(id string, responseTime time.Duration)
	TrackDismissed(id string)
	TrackAction(id, action string)
}
