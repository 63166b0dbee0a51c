package core

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"

	"autoprint/internal/config"
	"autoprint/internal/db"
)

// JobService drives every print job through its life cycle. All status
// changes go through conditional updates ("move only if still in the
// expected state"), which doubles as optimistic concurrency control
// against double-processing.
type JobService struct {
	db       *sql.DB
	queue    *Queue
	cleaner  *Cleaner
	notifier Notifier
	pricing  config.PricingConfig
}

func NewJobService(database *sql.DB, queue *Queue, cleaner *Cleaner, notifier Notifier, pricing config.PricingConfig) *JobService {
	return &JobService{
		db:       database,
		queue:    queue,
		cleaner:  cleaner,
		notifier: notifier,
		pricing:  pricing,
	}
}

func (s *JobService) Queue() *Queue {
	return s.queue
}

func (s *JobService) Cleaner() *Cleaner {
	return s.cleaner
}

type CreateJobParams struct {
	StudentID  string
	DocumentID string
	Priority   string
	Options    PrintOptions
}

// CreateJob creates a job in awaiting_payment: no queue position, no
// UPID. Cost is computed from the document's page count and the print
// options and is fixed from here on.
func (s *JobService) CreateJob(ctx context.Context, p CreateJobParams) (*db.PrintJob, error) {
	doc, err := db.Documents.GetDocumentByID(ctx, p.DocumentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("document %s: %w", p.DocumentID, sql.ErrNoRows)
		}
		return nil, err
	}
	if doc.StudentID != p.StudentID {
		return nil, ErrNotOwner
	}
	if doc.PurgedAt != nil {
		return nil, fmt.Errorf("document %s has been purged", p.DocumentID)
	}

	opts := p.Options
	if opts.Copies <= 0 {
		opts.Copies = 1
	}
	if opts.ColorMode == "" {
		opts.ColorMode = "black_and_white"
	}
	if opts.PaperSize == "" {
		opts.PaperSize = "A4"
	}
	if opts.Quality == "" {
		opts.Quality = "normal"
	}
	if p.Priority == "" {
		p.Priority = string(PriorityNormal)
	}
	if !ValidPriority(p.Priority) {
		return nil, fmt.Errorf("invalid priority: %s", p.Priority)
	}

	perPage, total := s.computeCost(doc.Pages, opts)

	job := &db.PrintJob{
		ID:          uuid.NewString(),
		StudentID:   p.StudentID,
		DocumentID:  p.DocumentID,
		Status:      string(StatusAwaitingPayment),
		Priority:    p.Priority,
		Pages:       doc.Pages,
		Copies:      opts.Copies,
		ColorMode:   opts.ColorMode,
		Duplex:      opts.Duplex,
		PaperSize:   opts.PaperSize,
		Quality:     opts.Quality,
		CostPerPage: perPage,
		TotalCost:   total,
	}

	if err := db.Jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.appendEvent(ctx, job.ID, "created", "", StatusAwaitingPayment, p.StudentID, "")
	s.notifier.NotifyStudent(p.StudentID, "job_created", jobPayload(job))
	s.notifier.NotifyStaff("job_created", jobPayload(job))

	return db.Jobs.GetJobByID(ctx, job.ID)
}

func (s *JobService) computeCost(pages int, opts PrintOptions) (float64, float64) {
	perPage := s.pricing.CostPerPage
	if opts.ColorMode == "color" {
		perPage *= s.pricing.ColorMultiplier
	}
	if opts.Duplex {
		perPage *= s.pricing.DuplexMultiplier
	}
	if opts.Quality == "high" {
		perPage *= s.pricing.QualityMultiplier
	}
	total := perPage * float64(pages) * float64(opts.Copies)
	return perPage, total
}

// EstimatePrintSeconds is a coarse wait estimate: 30s a page, scaled by
// the print options.
func EstimatePrintSeconds(pages, copies int, opts PrintOptions) int {
	multiplier := 1.0
	if opts.ColorMode == "color" {
		multiplier *= 1.5
	}
	if opts.Duplex {
		multiplier *= 1.2
	}
	if opts.Quality == "high" {
		multiplier *= 1.3
	}
	if copies <= 0 {
		copies = 1
	}
	secs := float64(pages*copies) * 30 * multiplier
	return int(secs + 0.5)
}

// VerifyPayment is the entry point the payment subsystem calls once a
// transfer checks out: the job gets its queue position and UPID and
// enters the line.
func (s *JobService) VerifyPayment(ctx context.Context, jobID, verifiedBy string) (*db.PrintJob, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if _, err := Next(Status(job.Status), EventPaymentVerified); err != nil {
		s.logRejected(job.ID, EventPaymentVerified, err)
		return nil, err
	}

	position, upid, err := s.queue.Assign(ctx, jobID, verifiedBy)
	if err != nil {
		s.logRejected(job.ID, EventPaymentVerified, err)
		return nil, err
	}

	// Settle the payment row only once the job has actually moved, so a
	// lost race never strands a verified payment on an unqueued job.
	if job.PaymentID != "" {
		if _, err := db.Payments.SetStatus(ctx, job.PaymentID, "verified", verifiedBy); err != nil {
			log.Printf("[jobs] failed to settle payment %s for job %s: %v", job.PaymentID, jobID, err)
		}
	}

	s.appendEvent(ctx, jobID, string(EventPaymentVerified), StatusAwaitingPayment, StatusQueued, verifiedBy, "")

	updated, err := db.Jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyStudent(job.StudentID, "payment_verified", map[string]interface{}{
		"job_id":         jobID,
		"job_number":     job.JobNumber,
		"upid":           upid,
		"queue_position": position,
	})
	s.notifier.NotifyStaff("payment_verified", jobPayload(updated))
	s.broadcastQueueUpdate(ctx, "payment_verified", jobID)

	return updated, nil
}

// RejectPayment moves the job to payment_rejected. No queue resources
// were consumed, so there is nothing to release.
func (s *JobService) RejectPayment(ctx context.Context, jobID, rejectedBy, reason string) (*db.PrintJob, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, job, EventPaymentRejected, rejectedBy, reason,
		"failure_reason = ?", []interface{}{reason})
	if err != nil {
		return nil, err
	}

	if job.PaymentID != "" {
		if _, err := db.Payments.SetStatus(ctx, job.PaymentID, "rejected", rejectedBy); err != nil {
			log.Printf("[jobs] failed to settle payment %s for job %s: %v", job.PaymentID, jobID, err)
		}
	}

	s.notifier.NotifyStudent(job.StudentID, "payment_rejected", map[string]interface{}{
		"job_id":     jobID,
		"job_number": job.JobNumber,
		"reason":     reason,
	})
	s.notifier.NotifyStaff("payment_rejected", jobPayload(updated))
	return updated, nil
}

// CallNext moves the front queued job to awaiting_confirmation and
// starts its confirmation window. Returns nil when nothing is callable.
func (s *JobService) CallNext(ctx context.Context) (*db.PrintJob, error) {
	front, err := s.queue.Front(ctx)
	if err != nil {
		return nil, err
	}
	if front == nil || front.Status != StatusQueued {
		// Someone is already being served or confirming.
		return nil, nil
	}

	job, err := s.getJob(ctx, front.JobID)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, job, EventCallToFront, "", "", "", nil)
	if err != nil {
		if err == ErrStaleUpdate {
			return nil, nil
		}
		return nil, err
	}

	s.notifier.NotifyStudent(job.StudentID, "your_turn", map[string]interface{}{
		"job_id":     job.ID,
		"job_number": job.JobNumber,
		"upid":       job.UPID,
		"message":    "You are up: confirm at the kiosk to start printing",
	})
	s.broadcastQueueUpdate(ctx, "called_to_front", job.ID)
	return updated, nil
}

// Confirm is the student's "I am here": validates ownership and the
// single-use UPID, then moves the job to printing.
func (s *JobService) Confirm(ctx context.Context, jobID, studentID, code string) (*db.PrintJob, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.StudentID != studentID {
		return nil, ErrNotOwner
	}
	if !ValidateFormat(code) {
		return nil, ErrUPIDFormat
	}
	if job.UPID == "" || job.UPID != code {
		return nil, ErrUPIDNotFound
	}
	// Replay with a consumed code is a single-use violation, reported
	// distinctly from an illegal state.
	if job.UPIDUsedAt != nil {
		s.logRejected(job.ID, EventConfirm, ErrUPIDUsed)
		return nil, ErrUPIDUsed
	}
	if _, err := Next(Status(job.Status), EventConfirm); err != nil {
		s.logRejected(job.ID, EventConfirm, err)
		return nil, err
	}

	// Status move and single-use flag flip in one conditional update, so
	// a racing timeout can never strand a queued job with a burned UPID.
	result, err := s.db.ExecContext(ctx, `
		UPDATE print_jobs
		SET status = ?, upid_used_at = CURRENT_TIMESTAMP,
		    confirmed_by = ?, confirmed_at = CURRENT_TIMESTAMP,
		    started_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ? AND upid_used_at IS NULL
	`, string(StatusPrinting), studentID, job.ID, string(StatusAwaitingConfirmation))
	if err != nil {
		return nil, fmt.Errorf("failed to confirm job: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		current, rerr := s.getJob(ctx, jobID)
		if rerr != nil {
			return nil, rerr
		}
		if current.UPIDUsedAt != nil {
			s.logRejected(job.ID, EventConfirm, ErrUPIDUsed)
			return nil, ErrUPIDUsed
		}
		if _, terr := Next(Status(current.Status), EventConfirm); terr != nil {
			s.logRejected(job.ID, EventConfirm, terr)
			return nil, terr
		}
		s.logRejected(job.ID, EventConfirm, ErrStaleUpdate)
		return nil, ErrStaleUpdate
	}

	s.appendEvent(ctx, job.ID, string(EventConfirm), StatusAwaitingConfirmation, StatusPrinting, studentID, "")

	updated, err := db.Jobs.GetJobByID(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyStudent(studentID, "job_confirmed", map[string]interface{}{
		"job_id":     job.ID,
		"job_number": job.JobNumber,
		"upid":       job.UPID,
	})
	s.notifier.NotifyStaff("job_confirmed", jobPayload(updated))
	s.broadcastQueueUpdate(ctx, "job_confirmed", job.ID)
	return updated, nil
}

// FetchForPrint serves the printer agent: metadata for the job owning
// the UPID, valid only while the job is printing, and only once.
func (s *JobService) FetchForPrint(ctx context.Context, code, agent string) (*db.PrintJob, *db.Document, error) {
	if !ValidateFormat(code) {
		return nil, nil, ErrUPIDFormat
	}
	job, err := db.Jobs.GetJobByUPID(ctx, code)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil, ErrUPIDNotFound
		}
		return nil, nil, err
	}
	if Status(job.Status) != StatusPrinting {
		err := &TransitionError{From: Status(job.Status), Event: "fetch"}
		s.logRejected(job.ID, "fetch", err)
		return nil, nil, err
	}

	fetched, err := db.Jobs.MarkFetched(ctx, job.ID, agent)
	if err != nil {
		return nil, nil, err
	}
	if !fetched {
		s.logRejected(job.ID, "fetch", ErrUPIDUsed)
		return nil, nil, ErrUPIDUsed
	}

	doc, err := db.Documents.GetDocumentByID(ctx, job.DocumentID)
	if err != nil {
		return nil, nil, err
	}

	s.appendEvent(ctx, job.ID, "fetched", Status(job.Status), Status(job.Status), agent, "")
	s.notifier.NotifyStaff("job_fetched", map[string]interface{}{
		"job_id": job.ID,
		"upid":   job.UPID,
		"agent":  agent,
	})

	updated, err := db.Jobs.GetJobByID(ctx, job.ID)
	if err != nil {
		return nil, nil, err
	}
	return updated, doc, nil
}

// Complete records the printer's verdict. Success schedules the
// document purge after the grace window; failure keeps the file for a
// reprint attempt until the retention sweep.
func (s *JobService) Complete(ctx context.Context, code string, success bool, failureReason string, pagesPrinted *int, actor string) (*db.PrintJob, error) {
	job, err := db.Jobs.GetJobByUPID(ctx, code)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUPIDNotFound
		}
		return nil, err
	}

	ev := EventPrintSucceeded
	if !success {
		ev = EventPrintFailed
	}

	set := "completed_at = CURRENT_TIMESTAMP"
	var args []interface{}
	if !success {
		set += ", failure_reason = ?"
		args = append(args, failureReason)
	}
	if pagesPrinted != nil {
		set += ", pages_printed = ?"
		args = append(args, *pagesPrinted)
	}

	updated, err := s.transition(ctx, job, ev, actor, failureReason, set, args)
	if err != nil {
		return nil, err
	}

	if err := s.cleaner.HandleTerminal(ctx, updated, success); err != nil {
		log.Printf("[jobs] cleanup after job %s: %v", job.ID, err)
	}

	event := "job_completed"
	if !success {
		event = "job_failed"
	}
	s.notifier.NotifyStudent(job.StudentID, event, map[string]interface{}{
		"job_id":     job.ID,
		"job_number": job.JobNumber,
		"upid":       job.UPID,
		"success":    success,
		"reason":     failureReason,
	})
	s.notifier.NotifyStaff(event, jobPayload(updated))
	s.broadcastQueueUpdate(ctx, event, job.ID)

	return db.Jobs.GetJobByID(ctx, job.ID)
}

// Cancel is legal from any non-terminal state; the slot is released
// only if one was held.
func (s *JobService) Cancel(ctx context.Context, jobID, actor string) (*db.PrintJob, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, job, EventCancel, actor, "",
		"completed_at = CURRENT_TIMESTAMP", nil)
	if err != nil {
		return nil, err
	}

	if job.QueuePosition != nil {
		if err := s.cleaner.HandleTerminal(ctx, updated, false); err != nil {
			log.Printf("[jobs] cleanup after cancel of %s: %v", jobID, err)
		}
	}

	s.notifier.NotifyStudent(job.StudentID, "job_cancelled", map[string]interface{}{
		"job_id":     job.ID,
		"job_number": job.JobNumber,
	})
	s.notifier.NotifyStaff("job_cancelled", jobPayload(updated))
	s.broadcastQueueUpdate(ctx, "job_cancelled", job.ID)
	return db.Jobs.GetJobByID(ctx, jobID)
}

// Skip drops a queued job out of the line entirely, a staff action for
// jobs that should not be served.
func (s *JobService) Skip(ctx context.Context, jobID, actor string) (*db.PrintJob, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, job, EventSkip, actor, "", "", nil)
	if err != nil {
		return nil, err
	}

	if err := s.cleaner.HandleTerminal(ctx, updated, false); err != nil {
		log.Printf("[jobs] cleanup after skip of %s: %v", jobID, err)
	}

	s.notifier.NotifyStudent(job.StudentID, "job_skipped", map[string]interface{}{
		"job_id":     job.ID,
		"job_number": job.JobNumber,
	})
	s.notifier.NotifyStaff("job_skipped", jobPayload(updated))
	s.broadcastQueueUpdate(ctx, "job_skipped", job.ID)
	return db.Jobs.GetJobByID(ctx, jobID)
}

// Timeout demotes a job whose confirmation window lapsed: back to
// queued, pushed down by offset, in one transaction. The job keeps
// queue membership, it is penalized, not evicted.
func (s *JobService) Timeout(ctx context.Context, jobID string, offset int) (*db.PrintJob, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	from := Status(job.Status)
	to, err := Next(from, EventConfirmTimeout)
	if err != nil {
		s.logRejected(job.ID, EventConfirmTimeout, err)
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE print_jobs
		SET status = ?, timeout_count = timeout_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`, string(to), job.ID, string(from))
	if err != nil {
		return nil, fmt.Errorf("failed to apply transition %s: %w", EventConfirmTimeout, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		s.logRejected(job.ID, EventConfirmTimeout, ErrStaleUpdate)
		return nil, ErrStaleUpdate
	}

	newPos, err := moveToBackTx(ctx, tx, jobID, offset)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.appendEvent(ctx, jobID, string(EventConfirmTimeout), from, to, "", "")

	s.notifier.NotifyStudent(job.StudentID, "confirmation_timeout", map[string]interface{}{
		"job_id":         job.ID,
		"job_number":     job.JobNumber,
		"upid":           job.UPID,
		"queue_position": newPos,
		"message":        "Your print job was moved down the queue: confirmation timed out",
	})
	s.broadcastQueueUpdate(ctx, "confirmation_timeout", job.ID)

	return db.Jobs.GetJobByID(ctx, jobID)
}

// Expire retires a job that burned through its timeout budget.
func (s *JobService) Expire(ctx context.Context, jobID string) (*db.PrintJob, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	updated, err := s.transition(ctx, job, EventExpire, "", "too many confirmation timeouts",
		"completed_at = CURRENT_TIMESTAMP", nil)
	if err != nil {
		return nil, err
	}

	if err := s.cleaner.HandleTerminal(ctx, updated, false); err != nil {
		log.Printf("[jobs] cleanup after expiry of %s: %v", jobID, err)
	}

	s.notifier.NotifyStudent(job.StudentID, "job_expired", map[string]interface{}{
		"job_id":     job.ID,
		"job_number": job.JobNumber,
		"message":    "Your print job expired after repeated confirmation timeouts",
	})
	s.notifier.NotifyStaff("job_expired", jobPayload(updated))
	s.broadcastQueueUpdate(ctx, "job_expired", job.ID)
	return updated, nil
}

func (s *JobService) getJob(ctx context.Context, jobID string) (*db.PrintJob, error) {
	job, err := db.Jobs.GetJobByID(ctx, jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// transition applies one guarded state change. The conditional WHERE on
// the expected status makes a lost race an ErrStaleUpdate, never a
// double-applied event.
func (s *JobService) transition(ctx context.Context, job *db.PrintJob, ev Event, actor, detail, extraSet string, extraArgs []interface{}) (*db.PrintJob, error) {
	from := Status(job.Status)
	to, err := Next(from, ev)
	if err != nil {
		s.logRejected(job.ID, ev, err)
		return nil, err
	}

	query := "UPDATE print_jobs SET status = ?, updated_at = CURRENT_TIMESTAMP"
	args := []interface{}{string(to)}
	if extraSet != "" {
		query += ", " + extraSet
		args = append(args, extraArgs...)
	}
	query += " WHERE id = ? AND status = ?"
	args = append(args, job.ID, string(from))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to apply transition %s: %w", ev, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		s.logRejected(job.ID, ev, ErrStaleUpdate)
		return nil, ErrStaleUpdate
	}

	s.appendEvent(ctx, job.ID, string(ev), from, to, actor, detail)

	return db.Jobs.GetJobByID(ctx, job.ID)
}

func (s *JobService) appendEvent(ctx context.Context, jobID, event string, from, to Status, actor, detail string) {
	err := db.Events.Append(ctx, &db.JobEvent{
		JobID:      jobID,
		Event:      event,
		FromStatus: string(from),
		ToStatus:   string(to),
		Actor:      actor,
		Detail:     detail,
	})
	if err != nil {
		log.Printf("[jobs] failed to record event %s for job %s: %v", event, jobID, err)
	}
}

func (s *JobService) logRejected(jobID string, ev Event, err error) {
	log.Printf("[jobs] rejected event %s for job %s: %v", ev, jobID, err)
}

func (s *JobService) broadcastQueueUpdate(ctx context.Context, reason, jobID string) {
	s.notifier.Broadcast("queue_update", map[string]interface{}{
		"type":   reason,
		"job_id": jobID,
	})
}

func jobPayload(j *db.PrintJob) map[string]interface{} {
	return map[string]interface{}{
		"job_id":         j.ID,
		"job_number":     j.JobNumber,
		"student_id":     j.StudentID,
		"status":         j.Status,
		"queue_position": j.QueuePosition,
		"upid":           j.UPID,
		"pages":          j.Pages,
		"copies":         j.Copies,
		"total_cost":     j.TotalCost,
	}
}
