package db

import (
	"time"
)

type PrintJob struct {
	ID            string     `json:"id"`
	JobNumber     string     `json:"job_number"`
	StudentID     string     `json:"student_id"`
	DocumentID    string     `json:"document_id"`
	PaymentID     string     `json:"payment_id,omitempty"`
	Status        string     `json:"status"`
	QueuePosition *int       `json:"queue_position"`
	Priority      string     `json:"priority"`
	UPID          string     `json:"upid,omitempty"`
	UPIDUsedAt    *time.Time `json:"upid_used_at,omitempty"`
	Pages         int        `json:"pages"`
	Copies        int        `json:"copies"`
	ColorMode     string     `json:"color_mode"`
	Duplex        bool       `json:"duplex"`
	PaperSize     string     `json:"paper_size"`
	Quality       string     `json:"quality"`
	CostPerPage   float64    `json:"cost_per_page"`
	TotalCost     float64    `json:"total_cost"`
	FailureReason string     `json:"failure_reason,omitempty"`
	PagesPrinted  *int       `json:"pages_printed,omitempty"`
	TimeoutCount  int        `json:"timeout_count"`
	VerifiedBy    string     `json:"verified_by,omitempty"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	ConfirmedBy   string     `json:"confirmed_by,omitempty"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty"`
	FetchedBy     string     `json:"fetched_by,omitempty"`
	FetchedAt     *time.Time `json:"fetched_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

type Document struct {
	ID         string     `json:"id"`
	StudentID  string     `json:"student_id"`
	Name       string     `json:"name"`
	Pages      int        `json:"pages"`
	SizeBytes  int64      `json:"size_bytes"`
	MimeType   string     `json:"mime_type"`
	StorageKey string     `json:"storage_key,omitempty"`
	PurgeAfter *time.Time `json:"purge_after,omitempty"`
	PurgedAt   *time.Time `json:"purged_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type Payment struct {
	ID         string     `json:"id"`
	JobID      string     `json:"job_id"`
	StudentID  string     `json:"student_id"`
	Amount     float64    `json:"amount"`
	Method     string     `json:"method"`
	Reference  string     `json:"reference"`
	Status     string     `json:"status"`
	VerifiedBy string     `json:"verified_by,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type JobEvent struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	Event      string    `json:"event"`
	FromStatus string    `json:"from_status"`
	ToStatus   string    `json:"to_status"`
	Actor      string    `json:"actor,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type Webhook struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	Secret     string    `json:"secret,omitempty"`
	EventsJSON string    `json:"events_json"`
	Enabled    bool      `json:"enabled"`
	CreatedAt  time.Time `json:"created_at"`
}

type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Encrypted bool      `json:"encrypted"`
	UpdatedAt time.Time `json:"updated_at"`
}

type JobFilter struct {
	StudentID string
	Status    string
	FromDate  *time.Time
	ToDate    *time.Time
	Limit     int
	Offset    int
}
