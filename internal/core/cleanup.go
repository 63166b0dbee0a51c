package core

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"autoprint/internal/db"
)

const terminalStatusSQL = `('completed', 'failed', 'cancelled', 'expired', 'skipped', 'payment_rejected')`

// Cleaner releases queue slots on terminal transitions and purges
// document bytes once the dispute window has passed.
type Cleaner struct {
	db        *sql.DB
	queue     *Queue
	remover   DocumentRemover
	grace     time.Duration
	retention time.Duration
}

func NewCleaner(database *sql.DB, queue *Queue, remover DocumentRemover, grace, retention time.Duration) *Cleaner {
	if grace <= 0 {
		grace = 24 * time.Hour
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Cleaner{
		db:        database,
		queue:     queue,
		remover:   remover,
		grace:     grace,
		retention: retention,
	}
}

// HandleTerminal frees the job's queue slot, compacts the queue, and on
// success schedules the document purge after the grace period so the
// student can still re-fetch a receipt or dispute the print.
func (c *Cleaner) HandleTerminal(ctx context.Context, job *db.PrintJob, scheduleDocPurge bool) error {
	if err := c.queue.Release(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to release slot for job %s: %w", job.ID, err)
	}

	if scheduleDocPurge {
		// UTC so the deadline compares cleanly against CURRENT_TIMESTAMP.
		purgeAt := time.Now().Add(c.grace).UTC()
		if err := db.Documents.SetPurgeAfter(ctx, job.DocumentID, purgeAt); err != nil {
			// Purge scheduling must not undo the transition; the hourly
			// sweep will catch the document through the retention path.
			log.Printf("[cleanup] failed to schedule purge for document %s: %v", job.DocumentID, err)
		}
	}
	return nil
}

// PurgeDue deletes stored bytes for every document whose purge deadline
// has passed.
func (c *Cleaner) PurgeDue(ctx context.Context) (int, error) {
	docs, err := db.Documents.ListDue(ctx)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, doc := range docs {
		if err := c.purgeDocument(ctx, doc); err != nil {
			log.Printf("[cleanup] failed to purge document %s: %v", doc.ID, err)
			continue
		}
		purged++
	}
	return purged, nil
}

func (c *Cleaner) purgeDocument(ctx context.Context, doc *db.Document) error {
	if c.remover != nil && doc.StorageKey != "" {
		if err := c.remover.Remove(doc.StorageKey); err != nil {
			return fmt.Errorf("failed to remove stored bytes: %w", err)
		}
	}
	if _, err := db.Documents.MarkPurged(ctx, doc.ID); err != nil {
		return err
	}
	log.Printf("[cleanup] purged document %s (%s)", doc.ID, doc.Name)
	return nil
}

// ForcePurge lets an operator purge a specific document immediately. It
// refuses while any non-terminal job still references the document: a
// printer agent might be fetching that file right now.
func (c *Cleaner) ForcePurge(ctx context.Context, documentID string) error {
	doc, err := db.Documents.GetDocumentByID(ctx, documentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return err
	}
	if doc.PurgedAt != nil {
		return nil
	}

	active, err := db.Documents.CountActiveJobs(ctx, documentID)
	if err != nil {
		return err
	}
	if active > 0 {
		return ErrDocumentInUse
	}

	return c.purgeDocument(ctx, doc)
}

// SweepRetired schedules purges for documents whose jobs are all
// terminal and past the retention window. Jobs that never completed
// successfully (failed, cancelled, expired) reach cleanup through this
// path, since only success schedules a purge up front.
func (c *Cleaner) SweepRetired(ctx context.Context) (int, error) {
	threshold := time.Now().Add(-c.retention).UTC()

	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT d.id FROM documents d
		JOIN print_jobs j ON j.document_id = d.id
		WHERE d.purged_at IS NULL AND d.purge_after IS NULL
		  AND j.status IN `+terminalStatusSQL+`
		  AND j.updated_at < ?
		  AND NOT EXISTS (
			SELECT 1 FROM print_jobs a
			WHERE a.document_id = d.id AND a.status NOT IN `+terminalStatusSQL+`
		  )
	`, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to list retired documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, fmt.Errorf("failed to scan retired document: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	for _, id := range ids {
		if err := db.Documents.SetPurgeAfter(ctx, id, now); err != nil {
			log.Printf("[cleanup] failed to schedule retired document %s: %v", id, err)
		}
	}
	return len(ids), nil
}
