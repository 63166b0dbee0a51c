package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"autoprint/internal/config"
)

const (
	MonitorConfirmation = "confirmation"
	MonitorCleanup      = "cleanup"
	MonitorSnapshot     = "snapshot"
)

// monitor is one periodic loop: no state beyond "am I running", all
// working state read from the store on each tick.
type monitor struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func (m *monitor) start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.wg.Add(1)

	go func(stopCh chan struct{}) {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				m.tick(context.Background())
			}
		}
	}(m.stopCh)
}

// stop lets the current iteration finish and then exits the loop. Jobs
// already in flight are untouched; only further automatic transitions
// are suspended.
func (m *monitor) stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *monitor) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Worker runs the three queue monitors: the confirmation-timeout scan,
// the retention sweep, and the full-snapshot broadcast. Each loop is
// independently start/stoppable.
type Worker struct {
	jobs     *JobService
	queue    *Queue
	cleaner  *Cleaner
	notifier Notifier
	cfg      config.QueueConfig

	monitors map[string]*monitor
	order    []string
}

type WorkerStatus struct {
	Running  bool            `json:"running"`
	Monitors map[string]bool `json:"monitors"`
}

func NewWorker(jobs *JobService, queue *Queue, cleaner *Cleaner, notifier Notifier, cfg config.QueueConfig, cleanupCfg config.CleanupConfig) *Worker {
	w := &Worker{
		jobs:     jobs,
		queue:    queue,
		cleaner:  cleaner,
		notifier: notifier,
		cfg:      cfg,
	}
	w.monitors = map[string]*monitor{
		MonitorConfirmation: {name: MonitorConfirmation, interval: cfg.MonitorInterval, tick: w.confirmationTick},
		MonitorCleanup:      {name: MonitorCleanup, interval: cleanupCfg.SweepInterval, tick: w.cleanupTick},
		MonitorSnapshot:     {name: MonitorSnapshot, interval: cfg.SnapshotInterval, tick: w.snapshotTick},
	}
	w.order = []string{MonitorConfirmation, MonitorCleanup, MonitorSnapshot}
	return w
}

func (w *Worker) Start() {
	log.Printf("[worker] starting queue monitors")
	for _, name := range w.order {
		w.monitors[name].start()
	}
}

func (w *Worker) Stop() {
	log.Printf("[worker] stopping queue monitors")
	for _, name := range w.order {
		w.monitors[name].stop()
	}
}

func (w *Worker) StartMonitor(name string) error {
	m, ok := w.monitors[name]
	if !ok {
		return fmt.Errorf("unknown monitor: %s", name)
	}
	m.start()
	return nil
}

func (w *Worker) StopMonitor(name string) error {
	m, ok := w.monitors[name]
	if !ok {
		return fmt.Errorf("unknown monitor: %s", name)
	}
	m.stop()
	return nil
}

func (w *Worker) Status() WorkerStatus {
	status := WorkerStatus{Monitors: make(map[string]bool)}
	for name, m := range w.monitors {
		running := m.isRunning()
		status.Monitors[name] = running
		if running {
			status.Running = true
		}
	}
	return status
}

// confirmationTick demotes jobs whose confirmation window lapsed, then
// calls the next queued job forward if the kiosk is idle.
func (w *Worker) confirmationTick(ctx context.Context) {
	w.CheckConfirmationTimeouts(ctx)
	if w.cfg.AutoCall {
		if _, err := w.jobs.CallNext(ctx); err != nil {
			log.Printf("[worker] failed to call next job: %v", err)
		}
	}
}

// CheckConfirmationTimeouts is one scan: every awaiting_confirmation
// job idle past the window is moved back, or expired once it exhausts
// its timeout budget.
func (w *Worker) CheckConfirmationTimeouts(ctx context.Context) {
	rows, err := w.queue.db.QueryContext(ctx, `
		SELECT id, timeout_count FROM print_jobs
		WHERE status = 'awaiting_confirmation'
		  AND updated_at < datetime('now', ?)
	`, fmt.Sprintf("-%.3f seconds", w.cfg.ConfirmTimeout.Seconds()))
	if err != nil {
		log.Printf("[worker] failed to scan confirmation timeouts: %v", err)
		return
	}

	type timedOut struct {
		id    string
		count int
	}
	var jobs []timedOut
	for rows.Next() {
		var t timedOut
		if err := rows.Scan(&t.id, &t.count); err != nil {
			rows.Close()
			log.Printf("[worker] failed to scan timed-out job: %v", err)
			return
		}
		jobs = append(jobs, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		log.Printf("[worker] failed to iterate timed-out jobs: %v", err)
		return
	}

	for _, t := range jobs {
		if w.cfg.MaxTimeouts > 0 && t.count >= w.cfg.MaxTimeouts {
			if _, err := w.jobs.Expire(ctx, t.id); err != nil && !errors.Is(err, ErrStaleUpdate) {
				log.Printf("[worker] failed to expire job %s: %v", t.id, err)
			}
			continue
		}
		if _, err := w.jobs.Timeout(ctx, t.id, w.cfg.MoveBackOffset); err != nil && !errors.Is(err, ErrStaleUpdate) {
			log.Printf("[worker] failed to time out job %s: %v", t.id, err)
		}
	}
}

func (w *Worker) cleanupTick(ctx context.Context) {
	retired, err := w.cleaner.SweepRetired(ctx)
	if err != nil {
		log.Printf("[worker] retention sweep failed: %v", err)
	}
	purged, err := w.cleaner.PurgeDue(ctx)
	if err != nil {
		log.Printf("[worker] document purge failed: %v", err)
	}
	if retired > 0 || purged > 0 {
		log.Printf("[worker] cleanup: %d documents scheduled, %d purged", retired, purged)
	}
}

// snapshotTick pushes the whole queue picture to every observer, so a
// client that missed individual events self-heals.
func (w *Worker) snapshotTick(ctx context.Context) {
	snap, err := w.queue.Snapshot(ctx)
	if err != nil {
		log.Printf("[worker] failed to snapshot queue: %v", err)
		return
	}

	w.notifier.Broadcast("queue_status", snap)

	entries := snap.Waiting
	if snap.CurrentJob != nil {
		entries = append([]QueueEntry{*snap.CurrentJob}, entries...)
	}
	for _, e := range entries {
		w.notifier.NotifyStudent(e.StudentID, "my_job_status", map[string]interface{}{
			"job_id":              e.JobID,
			"upid":                e.UPID,
			"status":              e.Status,
			"queue_position":      e.Position,
			"estimated_wait_secs": estimatedWaitSecs(e.Position),
		})
	}
}

// Roughly two minutes per job ahead in line.
func estimatedWaitSecs(position int) int {
	if position <= 1 {
		return 0
	}
	return (position - 1) * 120
}
