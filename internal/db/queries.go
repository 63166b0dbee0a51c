package db

const jobColumns = `
	id, job_number, student_id, document_id, payment_id, status,
	queue_position, priority, upid, upid_used_at,
	pages, copies, color_mode, duplex, paper_size, quality,
	cost_per_page, total_cost, failure_reason, pages_printed, timeout_count,
	verified_by, verified_at, confirmed_by, confirmed_at, fetched_by, fetched_at,
	created_at, updated_at, started_at, completed_at
`

const (
	InsertJob = `
		INSERT INTO print_jobs (
			id, job_number, student_id, document_id, status, priority,
			pages, copies, color_mode, duplex, paper_size, quality,
			cost_per_page, total_cost
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	GetJobByID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE id = ?`

	GetJobByUPID = `SELECT ` + jobColumns + ` FROM print_jobs WHERE upid = ?`

	CountJobsToday = `
		SELECT COUNT(*) FROM print_jobs WHERE date(created_at) = date('now')
	`

	CountJobsByStatus = `SELECT COUNT(*) FROM print_jobs WHERE status = ?`

	SetJobPayment = `
		UPDATE print_jobs SET payment_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
	`

	MarkUPIDUsed = `
		UPDATE print_jobs SET upid_used_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE upid = ? AND upid_used_at IS NULL
	`

	MarkJobFetched = `
		UPDATE print_jobs SET fetched_by = ?, fetched_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND fetched_at IS NULL
	`
)

const (
	InsertDocument = `
		INSERT INTO documents (id, student_id, name, pages, size_bytes, mime_type, storage_key)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	GetDocumentByID = `
		SELECT id, student_id, name, pages, size_bytes, mime_type, storage_key, purge_after, purged_at, created_at
		FROM documents WHERE id = ?
	`

	SetDocumentPurgeAfter = `
		UPDATE documents SET purge_after = ? WHERE id = ? AND purged_at IS NULL
	`

	MarkDocumentPurged = `
		UPDATE documents SET purged_at = CURRENT_TIMESTAMP, storage_key = '' WHERE id = ? AND purged_at IS NULL
	`

	ListDueDocuments = `
		SELECT id, student_id, name, pages, size_bytes, mime_type, storage_key, purge_after, purged_at, created_at
		FROM documents WHERE purged_at IS NULL AND purge_after IS NOT NULL AND purge_after <= CURRENT_TIMESTAMP
	`

	CountActiveJobsForDocument = `
		SELECT COUNT(*) FROM print_jobs
		WHERE document_id = ?
		  AND status NOT IN ('completed', 'failed', 'cancelled', 'expired', 'skipped', 'payment_rejected')
	`
)

const (
	InsertPayment = `
		INSERT INTO payments (id, job_id, student_id, amount, method, reference)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	GetPaymentByID = `
		SELECT id, job_id, student_id, amount, method, reference, status, verified_by, verified_at, created_at
		FROM payments WHERE id = ?
	`

	GetPaymentByJobID = `
		SELECT id, job_id, student_id, amount, method, reference, status, verified_by, verified_at, created_at
		FROM payments WHERE job_id = ? ORDER BY created_at DESC LIMIT 1
	`

	SetPaymentStatus = `
		UPDATE payments SET status = ?, verified_by = ?, verified_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'pending'
	`
)

const (
	InsertJobEvent = `
		INSERT INTO job_events (job_id, event, from_status, to_status, actor, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	ListJobEvents = `
		SELECT id, job_id, event, from_status, to_status, actor, detail, created_at
		FROM job_events WHERE job_id = ? ORDER BY id ASC
	`
)

const (
	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled)
		VALUES (?, ?, ?, ?, ?)
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE id = ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks ORDER BY id ASC
	`

	ListWebhooksForEvent = `
		SELECT id, name, url, secret, events_json, enabled, created_at
		FROM webhooks WHERE enabled = 1 AND events_json LIKE ?
	`

	UpdateWebhook = `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events_json = ?, enabled = ? WHERE id = ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`
)

const (
	GetSettingByKey = `SELECT key, value, encrypted, updated_at FROM settings WHERE key = ?`

	UpsertSetting = `
		INSERT INTO settings (key, value, encrypted, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, encrypted = excluded.encrypted, updated_at = CURRENT_TIMESTAMP
	`
)
