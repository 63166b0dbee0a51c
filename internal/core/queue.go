package core

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const activeStatusSQL = `('queued', 'awaiting_confirmation', 'printing')`

// Queue owns the serving order. Every read-then-write against the
// position counter runs inside one transaction on the single database
// connection, so two concurrent payment verifications can never compute
// the same next position.
type Queue struct {
	db   *sql.DB
	upid *UPIDGenerator
}

func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		db:   db,
		upid: NewUPIDGenerator(),
	}
}

// Assign gives a job the next queue position and its UPID, moving it
// awaiting_payment -> queued, all in one transaction.
func (q *Queue) Assign(ctx context.Context, jobID, verifiedBy string) (int, string, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var maxPos sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(queue_position) FROM print_jobs WHERE status IN `+activeStatusSQL,
	).Scan(&maxPos)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read max queue position: %w", err)
	}
	position := int(maxPos.Int64) + 1

	upid, err := q.upid.Generate(ctx, tx)
	if err != nil {
		return 0, "", err
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE print_jobs
		SET queue_position = ?, upid = ?, status = 'queued',
		    verified_by = ?, verified_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'awaiting_payment'
	`, position, upid, verifiedBy, jobID)
	if err != nil {
		return 0, "", fmt.Errorf("failed to assign queue position: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, "", fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return 0, "", ErrStaleUpdate
	}

	if err := tx.Commit(); err != nil {
		return 0, "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return position, upid, nil
}

// Compact rewrites active positions as a dense 1..N sequence.
func (q *Queue) Compact(ctx context.Context) (int, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	n, err := compactTx(ctx, tx)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return n, nil
}

func compactTx(ctx context.Context, tx *sql.Tx) (int, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, queue_position FROM print_jobs
		WHERE status IN `+activeStatusSQL+` AND queue_position IS NOT NULL
		ORDER BY queue_position ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to list active jobs: %w", err)
	}

	type slot struct {
		id  string
		pos int
	}
	var slots []slot
	for rows.Next() {
		var s slot
		if err := rows.Scan(&s.id, &s.pos); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan active job: %w", err)
		}
		slots = append(slots, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate active jobs: %w", err)
	}

	for i, s := range slots {
		want := i + 1
		if s.pos == want {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE print_jobs SET queue_position = ? WHERE id = ?", want, s.id); err != nil {
			return 0, fmt.Errorf("failed to rewrite queue position: %w", err)
		}
	}
	return len(slots), nil
}

// MoveToBack pushes a job down by offset slots and compacts, so a
// timing-out job is penalized without being starved to the absolute end.
func (q *Queue) MoveToBack(ctx context.Context, jobID string, offset int) (int, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	target, err := moveToBackTx(ctx, tx, jobID, offset)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return target, nil
}

func moveToBackTx(ctx context.Context, tx *sql.Tx, jobID string, offset int) (int, error) {
	if offset < 1 {
		offset = 1
	}

	var pos sql.NullInt64
	err := tx.QueryRowContext(ctx,
		"SELECT queue_position FROM print_jobs WHERE id = ?", jobID).Scan(&pos)
	if err == sql.ErrNoRows {
		return 0, ErrJobNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read queue position: %w", err)
	}
	if !pos.Valid {
		return 0, ErrNotInQueue
	}
	current := int(pos.Int64)

	var maxPos sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		SELECT MAX(queue_position) FROM print_jobs WHERE status IN `+activeStatusSQL,
	).Scan(&maxPos)
	if err != nil {
		return 0, fmt.Errorf("failed to read max queue position: %w", err)
	}

	// Capped at the back of the line, so a lone job never gains a gap.
	target := current + offset
	if int(maxPos.Int64) < target {
		target = int(maxPos.Int64)
	}
	if target <= current {
		return current, nil
	}

	// Shift the displaced band up one slot, then drop the job into the
	// freed target. The sequence stays dense throughout, no compaction
	// needed.
	if _, err := tx.ExecContext(ctx, `
		UPDATE print_jobs SET queue_position = queue_position - 1
		WHERE status IN `+activeStatusSQL+` AND queue_position > ? AND queue_position <= ?
	`, current, target); err != nil {
		return 0, fmt.Errorf("failed to shift queue band: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE print_jobs SET queue_position = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		target, jobID); err != nil {
		return 0, fmt.Errorf("failed to move job back: %w", err)
	}

	return target, nil
}

// Release clears a departing job's position and compacts the survivors.
func (q *Queue) Release(ctx context.Context, jobID string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"UPDATE print_jobs SET queue_position = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		jobID); err != nil {
		return fmt.Errorf("failed to release queue position: %w", err)
	}

	if _, err := compactTx(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const queueEntryColumns = `
	id, job_number, upid, student_id, status, queue_position,
	pages, copies, color_mode, duplex, quality, updated_at, started_at
`

func scanQueueEntry(rows interface {
	Scan(dest ...interface{}) error
}) (*QueueEntry, error) {
	var (
		e         QueueEntry
		upid      sql.NullString
		pos       sql.NullInt64
		colorMode string
		duplex    bool
		quality   string
		startedAt sql.NullTime
	)
	err := rows.Scan(&e.JobID, &e.JobNumber, &upid, &e.StudentID, &e.Status, &pos,
		&e.Pages, &e.Copies, &colorMode, &duplex, &quality, &e.UpdatedAt, &startedAt)
	if err != nil {
		return nil, err
	}
	e.UPID = upid.String
	e.Position = int(pos.Int64)
	if startedAt.Valid {
		e.StartedAt = &startedAt.Time
	}
	e.EstimatedSecs = EstimatePrintSeconds(e.Pages, e.Copies, PrintOptions{
		ColorMode: colorMode,
		Duplex:    duplex,
		Quality:   quality,
	})
	return &e, nil
}

// Front returns the active job with the lowest position, or nil when
// the queue is empty.
func (q *Queue) Front(ctx context.Context) (*QueueEntry, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+queueEntryColumns+` FROM print_jobs
		WHERE status IN `+activeStatusSQL+` AND queue_position IS NOT NULL
		ORDER BY queue_position ASC LIMIT 1
	`)
	e, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue front: %w", err)
	}
	return e, nil
}

// NextJobs lists up to limit active jobs from a starting position.
func (q *Queue) NextJobs(ctx context.Context, limit, fromPosition int) ([]QueueEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	if fromPosition < 1 {
		fromPosition = 1
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT `+queueEntryColumns+` FROM print_jobs
		WHERE status IN `+activeStatusSQL+` AND queue_position IS NOT NULL AND queue_position >= ?
		ORDER BY queue_position ASC LIMIT ?
	`, fromPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list next jobs: %w", err)
	}
	defer rows.Close()

	var entries []QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// PositionFor returns a student's best (lowest) active entry, or nil.
func (q *Queue) PositionFor(ctx context.Context, studentID string) (*QueueEntry, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+queueEntryColumns+` FROM print_jobs
		WHERE student_id = ? AND status IN `+activeStatusSQL+` AND queue_position IS NOT NULL
		ORDER BY queue_position ASC LIMIT 1
	`, studentID)
	e, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get student position: %w", err)
	}
	return e, nil
}

// Snapshot captures the whole active queue for the periodic broadcast.
func (q *Queue) Snapshot(ctx context.Context) (*QueueSnapshot, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+queueEntryColumns+` FROM print_jobs
		WHERE status IN `+activeStatusSQL+` AND queue_position IS NOT NULL
		ORDER BY queue_position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot queue: %w", err)
	}
	defer rows.Close()

	snap := &QueueSnapshot{UpdatedAt: time.Now().UTC()}
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		if e.Status == StatusPrinting && snap.CurrentJob == nil {
			snap.CurrentJob = e
		} else {
			snap.Waiting = append(snap.Waiting, *e)
		}
		snap.Total++
	}
	return snap, rows.Err()
}
