package core

import (
	"time"
)

type Status string

const (
	StatusAwaitingPayment      Status = "awaiting_payment"
	StatusPaymentRejected      Status = "payment_rejected"
	StatusQueued               Status = "queued"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusPrinting             Status = "printing"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
	StatusCancelled            Status = "cancelled"
	StatusExpired              Status = "expired"
	StatusSkipped              Status = "skipped"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusSkipped, StatusPaymentRejected:
		return true
	}
	return false
}

func (s Status) Active() bool {
	switch s {
	case StatusQueued, StatusAwaitingConfirmation, StatusPrinting:
		return true
	}
	return false
}

type Event string

const (
	EventPaymentVerified Event = "payment_verified"
	EventPaymentRejected Event = "payment_rejected"
	EventCallToFront     Event = "call_to_front"
	EventConfirm         Event = "confirm"
	EventConfirmTimeout  Event = "confirm_timeout"
	EventPrintSucceeded  Event = "print_succeeded"
	EventPrintFailed     Event = "print_failed"
	EventCancel          Event = "cancel"
	EventSkip            Event = "skip"
	EventExpire          Event = "expire"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

func ValidPriority(p string) bool {
	switch Priority(p) {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	}
	return false
}

type PrintOptions struct {
	Copies    int    `json:"copies"`
	ColorMode string `json:"color_mode"`
	Duplex    bool   `json:"duplex"`
	PaperSize string `json:"paper_size"`
	Quality   string `json:"quality"`
}

// Notifier fans a state change out to the three audiences. Delivery is
// best-effort and must never block a transition.
type Notifier interface {
	NotifyStudent(studentID, event string, data interface{})
	NotifyStaff(event string, data interface{})
	Broadcast(event string, data interface{})
}

// DocumentRemover deletes a document's stored bytes. The concrete store
// (disk, S3) is an external collaborator.
type DocumentRemover interface {
	Remove(storageKey string) error
}

type QueueEntry struct {
	JobID         string     `json:"job_id"`
	JobNumber     string     `json:"job_number"`
	UPID          string     `json:"upid,omitempty"`
	StudentID     string     `json:"student_id"`
	Status        Status     `json:"status"`
	Position      int        `json:"position"`
	Pages         int        `json:"pages"`
	Copies        int        `json:"copies"`
	EstimatedSecs int        `json:"estimated_secs"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
}

type QueueSnapshot struct {
	Total      int          `json:"total"`
	CurrentJob *QueueEntry  `json:"current_job"`
	Waiting    []QueueEntry `json:"waiting"`
	UpdatedAt  time.Time    `json:"updated_at"`
}
