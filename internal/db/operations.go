package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

var (
	Jobs      = &JobOperations{}
	Documents = &DocumentOperations{}
	Payments  = &PaymentOperations{}
	Events    = &EventOperations{}
	Webhooks  = &WebhookOperations{}
	Settings  = &SettingsOperations{}
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*PrintJob, error) {
	j := &PrintJob{}
	var (
		paymentID     sql.NullString
		queuePosition sql.NullInt64
		upid          sql.NullString
		upidUsedAt    sql.NullTime
		pagesPrinted  sql.NullInt64
		verifiedAt    sql.NullTime
		confirmedAt   sql.NullTime
		fetchedAt     sql.NullTime
		startedAt     sql.NullTime
		completedAt   sql.NullTime
	)

	err := row.Scan(
		&j.ID, &j.JobNumber, &j.StudentID, &j.DocumentID, &paymentID, &j.Status,
		&queuePosition, &j.Priority, &upid, &upidUsedAt,
		&j.Pages, &j.Copies, &j.ColorMode, &j.Duplex, &j.PaperSize, &j.Quality,
		&j.CostPerPage, &j.TotalCost, &j.FailureReason, &pagesPrinted, &j.TimeoutCount,
		&j.VerifiedBy, &verifiedAt, &j.ConfirmedBy, &confirmedAt, &j.FetchedBy, &fetchedAt,
		&j.CreatedAt, &j.UpdatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	j.PaymentID = paymentID.String
	j.UPID = upid.String
	if queuePosition.Valid {
		pos := int(queuePosition.Int64)
		j.QueuePosition = &pos
	}
	if upidUsedAt.Valid {
		j.UPIDUsedAt = &upidUsedAt.Time
	}
	if pagesPrinted.Valid {
		n := int(pagesPrinted.Int64)
		j.PagesPrinted = &n
	}
	if verifiedAt.Valid {
		j.VerifiedAt = &verifiedAt.Time
	}
	if confirmedAt.Valid {
		j.ConfirmedAt = &confirmedAt.Time
	}
	if fetchedAt.Valid {
		j.FetchedAt = &fetchedAt.Time
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	return j, nil
}

type JobOperations struct{}

// CreateJob inserts the job, minting its per-day job number inside the
// same transaction so two concurrent creations never draw the same
// sequence value.
func (o *JobOperations) CreateJob(ctx context.Context, j *PrintJob) error {
	tx, err := GetDB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, CountJobsToday).Scan(&count); err != nil {
		return fmt.Errorf("failed to count jobs: %w", err)
	}
	// date('now') in the count is UTC, so the prefix date must be too.
	j.JobNumber = fmt.Sprintf("PJ-%s-%04d", time.Now().UTC().Format("20060102"), count+1)

	if _, err := tx.ExecContext(ctx, InsertJob,
		j.ID, j.JobNumber, j.StudentID, j.DocumentID, j.Status, j.Priority,
		j.Pages, j.Copies, j.ColorMode, j.Duplex, j.PaperSize, j.Quality,
		j.CostPerPage, j.TotalCost); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (o *JobOperations) GetJobByID(ctx context.Context, id string) (*PrintJob, error) {
	j, err := scanJob(GetDB().QueryRowContext(ctx, GetJobByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (o *JobOperations) GetJobByUPID(ctx context.Context, upid string) (*PrintJob, error) {
	j, err := scanJob(GetDB().QueryRowContext(ctx, GetJobByUPID, upid))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get job by upid: %w", err)
	}
	return j, nil
}

func (o *JobOperations) ListJobs(ctx context.Context, filter JobFilter) ([]*PrintJob, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + jobColumns + ` FROM print_jobs WHERE 1=1`)
	args := []interface{}{}

	if filter.StudentID != "" {
		sb.WriteString(" AND student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		sb.WriteString(" AND status = ?")
		args = append(args, filter.Status)
	}
	if filter.FromDate != nil {
		sb.WriteString(" AND created_at >= ?")
		args = append(args, filter.FromDate)
	}
	if filter.ToDate != nil {
		sb.WriteString(" AND created_at <= ?")
		args = append(args, filter.ToDate)
	}

	sb.WriteString(" ORDER BY created_at DESC")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := GetDB().QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*PrintJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (o *JobOperations) CountByStatus(ctx context.Context, status string) (int, error) {
	var count int
	if err := GetDB().QueryRowContext(ctx, CountJobsByStatus, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	return count, nil
}

func (o *JobOperations) SetPayment(ctx context.Context, jobID, paymentID string) error {
	_, err := GetDB().ExecContext(ctx, SetJobPayment, paymentID, jobID)
	if err != nil {
		return fmt.Errorf("failed to set job payment: %w", err)
	}
	return nil
}

// MarkUPIDUsed flips the single-use flag. Returns false if the UPID was
// already consumed.
func (o *JobOperations) MarkUPIDUsed(ctx context.Context, upid string) (bool, error) {
	result, err := GetDB().ExecContext(ctx, MarkUPIDUsed, upid)
	if err != nil {
		return false, fmt.Errorf("failed to mark upid used: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (o *JobOperations) MarkFetched(ctx context.Context, jobID, fetchedBy string) (bool, error) {
	result, err := GetDB().ExecContext(ctx, MarkJobFetched, fetchedBy, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to mark job fetched: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

type DocumentOperations struct{}

func (o *DocumentOperations) CreateDocument(ctx context.Context, d *Document) error {
	_, err := GetDB().ExecContext(ctx, InsertDocument,
		d.ID, d.StudentID, d.Name, d.Pages, d.SizeBytes, d.MimeType, d.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func scanDocument(row rowScanner) (*Document, error) {
	d := &Document{}
	var purgeAfter, purgedAt sql.NullTime
	err := row.Scan(&d.ID, &d.StudentID, &d.Name, &d.Pages, &d.SizeBytes,
		&d.MimeType, &d.StorageKey, &purgeAfter, &purgedAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if purgeAfter.Valid {
		d.PurgeAfter = &purgeAfter.Time
	}
	if purgedAt.Valid {
		d.PurgedAt = &purgedAt.Time
	}
	return d, nil
}

func (o *DocumentOperations) GetDocumentByID(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(GetDB().QueryRowContext(ctx, GetDocumentByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return d, nil
}

func (o *DocumentOperations) SetPurgeAfter(ctx context.Context, id string, at time.Time) error {
	_, err := GetDB().ExecContext(ctx, SetDocumentPurgeAfter, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set purge_after: %w", err)
	}
	return nil
}

func (o *DocumentOperations) MarkPurged(ctx context.Context, id string) (bool, error) {
	result, err := GetDB().ExecContext(ctx, MarkDocumentPurged, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark document purged: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

func (o *DocumentOperations) ListDue(ctx context.Context) ([]*Document, error) {
	rows, err := GetDB().QueryContext(ctx, ListDueDocuments)
	if err != nil {
		return nil, fmt.Errorf("failed to list due documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (o *DocumentOperations) CountActiveJobs(ctx context.Context, documentID string) (int, error) {
	var count int
	if err := GetDB().QueryRowContext(ctx, CountActiveJobsForDocument, documentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active jobs for document: %w", err)
	}
	return count, nil
}

type PaymentOperations struct{}

func (o *PaymentOperations) CreatePayment(ctx context.Context, p *Payment) error {
	_, err := GetDB().ExecContext(ctx, InsertPayment,
		p.ID, p.JobID, p.StudentID, p.Amount, p.Method, p.Reference)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func scanPayment(row rowScanner) (*Payment, error) {
	p := &Payment{}
	var verifiedAt sql.NullTime
	err := row.Scan(&p.ID, &p.JobID, &p.StudentID, &p.Amount, &p.Method,
		&p.Reference, &p.Status, &p.VerifiedBy, &verifiedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	if verifiedAt.Valid {
		p.VerifiedAt = &verifiedAt.Time
	}
	return p, nil
}

func (o *PaymentOperations) GetPaymentByID(ctx context.Context, id string) (*Payment, error) {
	p, err := scanPayment(GetDB().QueryRowContext(ctx, GetPaymentByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return p, nil
}

func (o *PaymentOperations) GetPaymentByJobID(ctx context.Context, jobID string) (*Payment, error) {
	p, err := scanPayment(GetDB().QueryRowContext(ctx, GetPaymentByJobID, jobID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get payment by job: %w", err)
	}
	return p, nil
}

// SetStatus moves a pending payment to verified/rejected. Returns false
// if the payment had already been settled.
func (o *PaymentOperations) SetStatus(ctx context.Context, id, status, verifiedBy string) (bool, error) {
	result, err := GetDB().ExecContext(ctx, SetPaymentStatus, status, verifiedBy, id)
	if err != nil {
		return false, fmt.Errorf("failed to set payment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}

type EventOperations struct{}

func (o *EventOperations) Append(ctx context.Context, e *JobEvent) error {
	_, err := GetDB().ExecContext(ctx, InsertJobEvent,
		e.JobID, e.Event, e.FromStatus, e.ToStatus, e.Actor, e.Detail)
	if err != nil {
		return fmt.Errorf("failed to append job event: %w", err)
	}
	return nil
}

func (o *EventOperations) ListForJob(ctx context.Context, jobID string) ([]*JobEvent, error) {
	rows, err := GetDB().QueryContext(ctx, ListJobEvents, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list job events: %w", err)
	}
	defer rows.Close()

	var events []*JobEvent
	for rows.Next() {
		e := &JobEvent{}
		if err := rows.Scan(&e.ID, &e.JobID, &e.Event, &e.FromStatus, &e.ToStatus,
			&e.Actor, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type WebhookOperations struct{}

func scanWebhook(row rowScanner) (*Webhook, error) {
	w := &Webhook{}
	var enabled int
	err := row.Scan(&w.ID, &w.Name, &w.URL, &w.Secret, &w.EventsJSON, &enabled, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.Enabled = enabled == 1
	return w, nil
}

func (o *WebhookOperations) CreateWebhook(ctx context.Context, w *Webhook) error {
	enabled := 0
	if w.Enabled {
		enabled = 1
	}
	result, err := GetDB().ExecContext(ctx, InsertWebhook, w.Name, w.URL, w.Secret, w.EventsJSON, enabled)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get webhook id: %w", err)
	}
	w.ID = id
	return nil
}

func (o *WebhookOperations) GetWebhookByID(ctx context.Context, id int64) (*Webhook, error) {
	w, err := scanWebhook(GetDB().QueryRowContext(ctx, GetWebhookByID, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return w, nil
}

func (o *WebhookOperations) ListWebhooks(ctx context.Context) ([]*Webhook, error) {
	rows, err := GetDB().QueryContext(ctx, ListWebhooks)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (o *WebhookOperations) ListForEvent(ctx context.Context, event string) ([]*Webhook, error) {
	pattern := fmt.Sprintf("%%%q%%", event)
	rows, err := GetDB().QueryContext(ctx, ListWebhooksForEvent, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks for event: %w", err)
	}
	defer rows.Close()

	var webhooks []*Webhook
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		webhooks = append(webhooks, w)
	}
	return webhooks, rows.Err()
}

func (o *WebhookOperations) UpdateWebhook(ctx context.Context, w *Webhook) error {
	enabled := 0
	if w.Enabled {
		enabled = 1
	}
	_, err := GetDB().ExecContext(ctx, UpdateWebhook, w.Name, w.URL, w.Secret, w.EventsJSON, enabled, w.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return nil
}

func (o *WebhookOperations) DeleteWebhook(ctx context.Context, id int64) error {
	_, err := GetDB().ExecContext(ctx, DeleteWebhook, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

type SettingsOperations struct{}

func (o *SettingsOperations) GetSetting(ctx context.Context, key string) (*Setting, error) {
	s := &Setting{}
	var encrypted int
	err := GetDB().QueryRowContext(ctx, GetSettingByKey, key).Scan(&s.Key, &s.Value, &encrypted, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("failed to get setting: %w", err)
	}
	s.Encrypted = encrypted == 1
	return s, nil
}

func (o *SettingsOperations) SetSetting(ctx context.Context, key, value string, encrypted bool) error {
	enc := 0
	if encrypted {
		enc = 1
	}
	_, err := GetDB().ExecContext(ctx, UpsertSetting, key, value, enc)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}
