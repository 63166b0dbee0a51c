package core

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"autoprint/internal/config"
	"autoprint/internal/db"
)

func openTestDB(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, db.Init(db.Config{Path: path}))
	t.Cleanup(func() { db.Close() })
}

type notice struct {
	scope  string
	target string
	event  string
	data   interface{}
}

// recordingNotifier captures fan-out calls for assertions.
type recordingNotifier struct {
	mu      sync.Mutex
	notices []notice
}

func (r *recordingNotifier) NotifyStudent(studentID, event string, data interface{}) {
	r.record("student", studentID, event, data)
}

func (r *recordingNotifier) NotifyStaff(event string, data interface{}) {
	r.record("staff", "", event, data)
}

func (r *recordingNotifier) Broadcast(event string, data interface{}) {
	r.record("broadcast", "", event, data)
}

func (r *recordingNotifier) record(scope, target, event string, data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notice{scope: scope, target: target, event: event, data: data})
}

func (r *recordingNotifier) find(scope, event string) *notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.notices {
		if r.notices[i].scope == scope && r.notices[i].event == event {
			return &r.notices[i]
		}
	}
	return nil
}

func (r *recordingNotifier) count(scope, event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, nt := range r.notices {
		if nt.scope == scope && nt.event == event {
			n++
		}
	}
	return n
}

type fakeRemover struct {
	mu      sync.Mutex
	removed []string
}

func (f *fakeRemover) Remove(storageKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, storageKey)
	return nil
}

func testPricing() config.PricingConfig {
	return config.PricingConfig{
		CostPerPage:       0.10,
		ColorMultiplier:   1.5,
		DuplexMultiplier:  1.2,
		QualityMultiplier: 1.3,
	}
}

func newTestService(t *testing.T) (*JobService, *recordingNotifier, *fakeRemover) {
	t.Helper()
	openTestDB(t)

	notifier := &recordingNotifier{}
	remover := &fakeRemover{}
	queue := NewQueue(db.GetDB())
	cleaner := NewCleaner(db.GetDB(), queue, remover, 0, 0)
	svc := NewJobService(db.GetDB(), queue, cleaner, notifier, testPricing())
	return svc, notifier, remover
}

func createTestDocument(t *testing.T, studentID string, pages int) *db.Document {
	t.Helper()
	doc := &db.Document{
		ID:         uuid.NewString(),
		StudentID:  studentID,
		Name:       "assignment.pdf",
		Pages:      pages,
		SizeBytes:  2048,
		MimeType:   "application/pdf",
		StorageKey: uuid.NewString() + ".pdf",
	}
	require.NoError(t, db.Documents.CreateDocument(context.Background(), doc))
	return doc
}

func createTestJob(t *testing.T, svc *JobService, studentID string, pages int) *db.PrintJob {
	t.Helper()
	doc := createTestDocument(t, studentID, pages)
	job, err := svc.CreateJob(context.Background(), CreateJobParams{
		StudentID:  studentID,
		DocumentID: doc.ID,
	})
	require.NoError(t, err)
	return job
}

// queuedTestJob creates a job and verifies its payment, so it holds a
// queue position and UPID.
func queuedTestJob(t *testing.T, svc *JobService, studentID string) *db.PrintJob {
	t.Helper()
	job := createTestJob(t, svc, studentID, 3)
	verified, err := svc.VerifyPayment(context.Background(), job.ID, "staff")
	require.NoError(t, err)
	return verified
}
