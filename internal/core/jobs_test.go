package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoprint/internal/db"
)

func TestCreateJobComputesCost(t *testing.T) {
	svc, notifier, _ := newTestService(t)
	ctx := context.Background()

	doc := createTestDocument(t, "alice", 10)
	job, err := svc.CreateJob(ctx, CreateJobParams{
		StudentID:  "alice",
		DocumentID: doc.ID,
		Options: PrintOptions{
			Copies:    2,
			ColorMode: "color",
			Quality:   "high",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, string(StatusAwaitingPayment), job.Status)
	assert.Nil(t, job.QueuePosition)
	assert.Empty(t, job.UPID)
	assert.InDelta(t, 0.10*1.5*1.3, job.CostPerPage, 1e-9)
	assert.InDelta(t, 0.10*1.5*1.3*10*2, job.TotalCost, 1e-9)
	assert.Regexp(t, `^PJ-\d{8}-\d{4}$`, job.JobNumber)

	require.NotNil(t, notifier.find("student", "job_created"))
	require.NotNil(t, notifier.find("staff", "job_created"))

	events, err := db.Events.ListForJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "created", events[0].Event)
}

func TestCreateJobConcurrentNumbersDistinct(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const n = 20
	docs := make([]*db.Document, n)
	for i := range docs {
		docs[i] = createTestDocument(t, "alice", 2)
	}

	jobs := make([]*db.PrintJob, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			jobs[i], errs[i] = svc.CreateJob(ctx, CreateJobParams{
				StudentID:  "alice",
				DocumentID: docs[i].ID,
			})
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Regexp(t, `^PJ-\d{8}-\d{4}$`, jobs[i].JobNumber)
		assert.False(t, seen[jobs[i].JobNumber], "job number %s minted twice", jobs[i].JobNumber)
		seen[jobs[i].JobNumber] = true
	}
}

func TestCreateJobRejectsForeignDocument(t *testing.T) {
	svc, _, _ := newTestService(t)

	doc := createTestDocument(t, "alice", 3)
	_, err := svc.CreateJob(context.Background(), CreateJobParams{
		StudentID:  "mallory",
		DocumentID: doc.ID,
	})
	require.ErrorIs(t, err, ErrNotOwner)
}

func TestCreateJobRejectsBadPriority(t *testing.T) {
	svc, _, _ := newTestService(t)

	doc := createTestDocument(t, "alice", 3)
	_, err := svc.CreateJob(context.Background(), CreateJobParams{
		StudentID:  "alice",
		DocumentID: doc.ID,
		Priority:   "urgent",
	})
	require.Error(t, err)
}

func TestEstimatePrintSeconds(t *testing.T) {
	assert.Equal(t, 150, EstimatePrintSeconds(5, 1, PrintOptions{}))
	assert.Equal(t, 300, EstimatePrintSeconds(5, 2, PrintOptions{}))
	assert.Equal(t, 225, EstimatePrintSeconds(5, 1, PrintOptions{ColorMode: "color"}))
	assert.Equal(t, 702, EstimatePrintSeconds(5, 2, PrintOptions{ColorMode: "color", Duplex: true, Quality: "high"}))
}

func TestVerifyPaymentEntersQueue(t *testing.T) {
	svc, notifier, _ := newTestService(t)
	ctx := context.Background()

	job := createTestJob(t, svc, "alice", 3)
	updated, err := svc.VerifyPayment(ctx, job.ID, "staff-1")
	require.NoError(t, err)

	assert.Equal(t, string(StatusQueued), updated.Status)
	require.NotNil(t, updated.QueuePosition)
	assert.Equal(t, 1, *updated.QueuePosition)
	assert.True(t, ValidateFormat(updated.UPID))
	assert.Nil(t, updated.UPIDUsedAt)
	assert.Equal(t, "staff-1", updated.VerifiedBy)
	require.NotNil(t, updated.VerifiedAt)

	n := notifier.find("student", "payment_verified")
	require.NotNil(t, n)
	assert.Equal(t, "alice", n.target)
	payload := n.data.(map[string]interface{})
	assert.Equal(t, updated.UPID, payload["upid"])
	assert.Equal(t, 1, payload["queue_position"])

	require.NotNil(t, notifier.find("broadcast", "queue_update"))
}

func TestVerifyPaymentTwiceIsIllegal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := createTestJob(t, svc, "alice", 3)
	_, err := svc.VerifyPayment(ctx, job.ID, "staff")
	require.NoError(t, err)

	_, err = svc.VerifyPayment(ctx, job.ID, "staff")
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))

	// State and position untouched by the rejected event.
	current, err := db.Jobs.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusQueued), current.Status)
	require.NotNil(t, current.QueuePosition)
	assert.Equal(t, 1, *current.QueuePosition)
}

func TestRejectPayment(t *testing.T) {
	svc, notifier, _ := newTestService(t)
	ctx := context.Background()

	job := createTestJob(t, svc, "alice", 3)
	updated, err := svc.RejectPayment(ctx, job.ID, "staff", "reference mismatch")
	require.NoError(t, err)

	assert.Equal(t, string(StatusPaymentRejected), updated.Status)
	assert.Equal(t, "reference mismatch", updated.FailureReason)
	assert.Nil(t, updated.QueuePosition)
	require.NotNil(t, notifier.find("student", "payment_rejected"))
}

func TestRejectAfterVerifyLeavesPaymentSettled(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := createTestJob(t, svc, "alice", 3)
	payment := &db.Payment{
		ID:        uuid.NewString(),
		JobID:     job.ID,
		StudentID: "alice",
		Amount:    job.TotalCost,
		Method:    "mobile_money",
		Status:    "pending",
	}
	require.NoError(t, db.Payments.CreatePayment(ctx, payment))
	require.NoError(t, db.Jobs.SetPayment(ctx, job.ID, payment.ID))

	_, err := svc.VerifyPayment(ctx, job.ID, "staff")
	require.NoError(t, err)

	// Rejecting a job that already entered the queue is illegal; the
	// failed attempt must not flip the settled payment to rejected.
	_, err = svc.RejectPayment(ctx, job.ID, "staff", "late change of mind")
	require.True(t, IsInvalidTransition(err))

	settled, err := db.Payments.GetPaymentByID(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, "verified", settled.Status)
}

func TestCallNextAndConfirmFlow(t *testing.T) {
	svc, notifier, _ := newTestService(t)
	ctx := context.Background()

	job := queuedTestJob(t, svc, "alice")

	called, err := svc.CallNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, called)
	assert.Equal(t, string(StatusAwaitingConfirmation), called.Status)

	turn := notifier.find("student", "your_turn")
	require.NotNil(t, turn)
	assert.Equal(t, "alice", turn.target)

	// Nothing else callable while someone is confirming.
	again, err := svc.CallNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)

	confirmed, err := svc.Confirm(ctx, job.ID, "alice", job.UPID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusPrinting), confirmed.Status)
	require.NotNil(t, confirmed.UPIDUsedAt)
	assert.Equal(t, "alice", confirmed.ConfirmedBy)
	require.NotNil(t, confirmed.StartedAt)
}

func TestConfirmGuards(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := queuedTestJob(t, svc, "alice")
	_, err := svc.CallNext(ctx)
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, job.ID, "mallory", job.UPID)
	require.ErrorIs(t, err, ErrNotOwner)

	_, err = svc.Confirm(ctx, job.ID, "alice", "bogus!!!")
	require.ErrorIs(t, err, ErrUPIDFormat)

	wrong := "AAAA0000"
	if wrong == job.UPID {
		wrong = "BBBB1111"
	}
	_, err = svc.Confirm(ctx, job.ID, "alice", wrong)
	require.ErrorIs(t, err, ErrUPIDNotFound)

	_, err = svc.Confirm(ctx, "no-such-job", "alice", job.UPID)
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestConfirmBeforeCalledIsIllegal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := queuedTestJob(t, svc, "alice")
	_, err := svc.Confirm(ctx, job.ID, "alice", job.UPID)
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))
}

func TestConfirmReplayAfterCompletion(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := queuedTestJob(t, svc, "alice")
	_, err := svc.CallNext(ctx)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, job.ID, "alice", job.UPID)
	require.NoError(t, err)
	_, err = svc.Complete(ctx, job.UPID, true, "", nil, "printer")
	require.NoError(t, err)

	// Replaying the consumed code is a single-use violation, not a
	// generic state error, and leaves the job untouched.
	_, err = svc.Confirm(ctx, job.ID, "alice", job.UPID)
	require.ErrorIs(t, err, ErrUPIDUsed)

	current, err := db.Jobs.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusCompleted), current.Status)
}

func TestTimeoutMovesJobBack(t *testing.T) {
	svc, notifier, _ := newTestService(t)
	ctx := context.Background()

	jobs := make([]*db.PrintJob, 7)
	for i := range jobs {
		jobs[i] = queuedTestJob(t, svc, "s1")
	}

	called, err := svc.CallNext(ctx)
	require.NoError(t, err)
	require.Equal(t, jobs[0].ID, called.ID)

	timed, err := svc.Timeout(ctx, jobs[0].ID, 5)
	require.NoError(t, err)

	assert.Equal(t, string(StatusQueued), timed.Status)
	assert.Equal(t, 1, timed.TimeoutCount)
	require.NotNil(t, timed.QueuePosition)
	assert.Equal(t, 6, *timed.QueuePosition)

	n := notifier.find("student", "confirmation_timeout")
	require.NotNil(t, n)
	payload := n.data.(map[string]interface{})
	assert.Equal(t, 6, payload["queue_position"])
}

func TestTimeoutRollsBackWhenMoveFails(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := queuedTestJob(t, svc, "alice")
	called, err := svc.CallNext(ctx)
	require.NoError(t, err)
	require.Equal(t, job.ID, called.ID)

	// Strip the queue position so the move half of the demotion fails.
	_, err = db.GetDB().ExecContext(ctx,
		"UPDATE print_jobs SET queue_position = NULL WHERE id = ?", job.ID)
	require.NoError(t, err)

	_, err = svc.Timeout(ctx, job.ID, 5)
	require.ErrorIs(t, err, ErrNotInQueue)

	// The demotion and the move are one transaction: the failed move
	// must not leave the job demoted with a burned timeout.
	current, err := db.Jobs.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusAwaitingConfirmation), current.Status)
	assert.Equal(t, 0, current.TimeoutCount)
}

func TestCompleteSuccessReleasesAndSchedulesPurge(t *testing.T) {
	svc, notifier, _ := newTestService(t)
	ctx := context.Background()

	first := queuedTestJob(t, svc, "alice")
	second := queuedTestJob(t, svc, "bob")

	_, err := svc.CallNext(ctx)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, first.ID, "alice", first.UPID)
	require.NoError(t, err)

	pages := 3
	done, err := svc.Complete(ctx, first.UPID, true, "", &pages, "printer")
	require.NoError(t, err)

	assert.Equal(t, string(StatusCompleted), done.Status)
	assert.Nil(t, done.QueuePosition)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.PagesPrinted)
	assert.Equal(t, 3, *done.PagesPrinted)

	// The survivor is compacted to the front.
	remaining, err := db.Jobs.GetJobByID(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, remaining.QueuePosition)
	assert.Equal(t, 1, *remaining.QueuePosition)

	// Document purge scheduled roughly one grace period out.
	doc, err := db.Documents.GetDocumentByID(ctx, done.DocumentID)
	require.NoError(t, err)
	require.NotNil(t, doc.PurgeAfter)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *doc.PurgeAfter, time.Minute)

	require.NotNil(t, notifier.find("student", "job_completed"))
	require.NotNil(t, notifier.find("staff", "job_completed"))
}

func TestCompleteFailureKeepsDocument(t *testing.T) {
	svc, notifier, _ := newTestService(t)
	ctx := context.Background()

	job := queuedTestJob(t, svc, "alice")
	_, err := svc.CallNext(ctx)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, job.ID, "alice", job.UPID)
	require.NoError(t, err)

	failed, err := svc.Complete(ctx, job.UPID, false, "paper jam", nil, "printer")
	require.NoError(t, err)

	assert.Equal(t, string(StatusFailed), failed.Status)
	assert.Equal(t, "paper jam", failed.FailureReason)
	assert.Nil(t, failed.QueuePosition)

	// The file stays for a reprint; the retention sweep owns it now.
	doc, err := db.Documents.GetDocumentByID(ctx, failed.DocumentID)
	require.NoError(t, err)
	assert.Nil(t, doc.PurgeAfter)

	require.NotNil(t, notifier.find("student", "job_failed"))
}

func TestCancelFromEveryNonTerminalState(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// awaiting_payment
	pending := createTestJob(t, svc, "alice", 2)
	cancelled, err := svc.Cancel(ctx, pending.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, string(StatusCancelled), cancelled.Status)

	// queued: the slot must be released
	queued := queuedTestJob(t, svc, "bob")
	cancelled, err = svc.Cancel(ctx, queued.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, string(StatusCancelled), cancelled.Status)
	assert.Nil(t, cancelled.QueuePosition)

	// printing
	printing := queuedTestJob(t, svc, "carol")
	_, err = svc.CallNext(ctx)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, printing.ID, "carol", printing.UPID)
	require.NoError(t, err)
	cancelled, err = svc.Cancel(ctx, printing.ID, "staff")
	require.NoError(t, err)
	assert.Equal(t, string(StatusCancelled), cancelled.Status)
}

func TestCancelTerminalIsIllegal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := createTestJob(t, svc, "alice", 2)
	_, err := svc.Cancel(ctx, job.ID, "alice")
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, job.ID, "alice")
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))
}

func TestSkipReleasesSlot(t *testing.T) {
	svc, notifier, _ := newTestService(t)
	ctx := context.Background()

	first := queuedTestJob(t, svc, "alice")
	second := queuedTestJob(t, svc, "bob")

	skipped, err := svc.Skip(ctx, first.ID, "staff")
	require.NoError(t, err)
	assert.Equal(t, string(StatusSkipped), skipped.Status)
	assert.Nil(t, skipped.QueuePosition)

	remaining, err := db.Jobs.GetJobByID(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, remaining.QueuePosition)
	assert.Equal(t, 1, *remaining.QueuePosition)

	require.NotNil(t, notifier.find("student", "job_skipped"))
}

func TestExpireAfterRepeatedTimeouts(t *testing.T) {
	svc, notifier, _ := newTestService(t)
	ctx := context.Background()

	job := queuedTestJob(t, svc, "alice")
	_, err := svc.CallNext(ctx)
	require.NoError(t, err)

	expired, err := svc.Expire(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, string(StatusExpired), expired.Status)
	assert.Nil(t, expired.QueuePosition)
	require.NotNil(t, notifier.find("student", "job_expired"))
}

func TestFetchForPrintSingleUse(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := queuedTestJob(t, svc, "alice")

	// Fetch before printing is a state violation.
	_, _, err := svc.FetchForPrint(ctx, job.UPID, "raspi-1")
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))

	_, err = svc.CallNext(ctx)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, job.ID, "alice", job.UPID)
	require.NoError(t, err)

	fetched, doc, err := svc.FetchForPrint(ctx, job.UPID, "raspi-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, fetched.ID)
	assert.Equal(t, "raspi-1", fetched.FetchedBy)
	require.NotNil(t, doc)
	assert.Equal(t, job.DocumentID, doc.ID)

	// The document hand-off happens once.
	_, _, err = svc.FetchForPrint(ctx, job.UPID, "raspi-1")
	require.ErrorIs(t, err, ErrUPIDUsed)

	_, _, err = svc.FetchForPrint(ctx, "ZZZZ9999", "raspi-1")
	require.ErrorIs(t, err, ErrUPIDNotFound)
}

func TestJobEventsAreAppendOnlyAudit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := queuedTestJob(t, svc, "alice")
	_, err := svc.CallNext(ctx)
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, job.ID, "alice", job.UPID)
	require.NoError(t, err)
	_, err = svc.Complete(ctx, job.UPID, true, "", nil, "printer")
	require.NoError(t, err)

	events, err := db.Events.ListForJob(ctx, job.ID)
	require.NoError(t, err)

	var names []string
	for _, e := range events {
		names = append(names, e.Event)
	}
	assert.Equal(t, []string{
		"created", "payment_verified", "call_to_front",
		"confirm", "print_succeeded",
	}, names)
}
