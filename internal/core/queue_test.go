package core

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoprint/internal/db"
)

func TestAssignSequentialPositions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	var upids []string
	for i, student := range []string{"s1", "s2", "s3"} {
		job := createTestJob(t, svc, student, 2)
		pos, upid, err := svc.Queue().Assign(ctx, job.ID, "staff")
		require.NoError(t, err)
		assert.Equal(t, i+1, pos)
		assert.True(t, ValidateFormat(upid))
		upids = append(upids, upid)

		updated, err := db.Jobs.GetJobByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, string(StatusQueued), updated.Status)
		require.NotNil(t, updated.QueuePosition)
		assert.Equal(t, i+1, *updated.QueuePosition)
	}

	assert.NotEqual(t, upids[0], upids[1])
	assert.NotEqual(t, upids[1], upids[2])
}

func TestAssignConcurrentPositionsDense(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	queue := svc.Queue()

	const n = 10
	jobs := make([]*db.PrintJob, n)
	for i := range jobs {
		jobs[i] = createTestJob(t, svc, "s1", 2)
	}

	positions := make([]int, n)
	upids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			positions[i], upids[i], errs[i] = queue.Assign(ctx, jobs[i].ID, "staff")
		}(i)
	}
	wg.Wait()

	// Every verification lands on its own slot and the sequence is a
	// dense 1..n regardless of interleaving.
	seenPos := make(map[int]bool, n)
	seenUPID := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.GreaterOrEqual(t, positions[i], 1)
		assert.LessOrEqual(t, positions[i], n)
		assert.False(t, seenPos[positions[i]], "position %d assigned twice", positions[i])
		seenPos[positions[i]] = true
		assert.False(t, seenUPID[upids[i]], "upid %s issued twice", upids[i])
		seenUPID[upids[i]] = true
	}
}

func TestAssignRejectsAlreadyQueuedJob(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := createTestJob(t, svc, "s1", 2)
	_, _, err := svc.Queue().Assign(ctx, job.ID, "staff")
	require.NoError(t, err)

	_, _, err = svc.Queue().Assign(ctx, job.ID, "staff")
	require.ErrorIs(t, err, ErrStaleUpdate)
}

func TestCompactClosesGaps(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	queue := svc.Queue()

	jobs := make([]*db.PrintJob, 4)
	for i := range jobs {
		jobs[i] = queuedTestJob(t, svc, "s1")
	}

	// Pull the second job out of the line.
	require.NoError(t, queue.Release(ctx, jobs[1].ID))

	for i, want := range map[int]int{0: 1, 2: 2, 3: 3} {
		updated, err := db.Jobs.GetJobByID(ctx, jobs[i].ID)
		require.NoError(t, err)
		require.NotNil(t, updated.QueuePosition)
		assert.Equal(t, want, *updated.QueuePosition)
	}

	released, err := db.Jobs.GetJobByID(ctx, jobs[1].ID)
	require.NoError(t, err)
	assert.Nil(t, released.QueuePosition)
}

func TestMoveToBackShiftsByOffset(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	queue := svc.Queue()

	jobs := make([]*db.PrintJob, 7)
	for i := range jobs {
		jobs[i] = queuedTestJob(t, svc, "s1")
	}

	newPos, err := queue.MoveToBack(ctx, jobs[0].ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 6, newPos)

	// The displaced band moves up one; the queue stays dense 1..7.
	wantPositions := map[int]int{0: 6, 1: 1, 2: 2, 3: 3, 4: 4, 5: 5, 6: 7}
	for i, want := range wantPositions {
		updated, err := db.Jobs.GetJobByID(ctx, jobs[i].ID)
		require.NoError(t, err)
		require.NotNil(t, updated.QueuePosition)
		assert.Equal(t, want, *updated.QueuePosition, "job %d", i)
	}
}

func TestMoveToBackCapsAtQueueEnd(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	queue := svc.Queue()

	jobs := make([]*db.PrintJob, 3)
	for i := range jobs {
		jobs[i] = queuedTestJob(t, svc, "s1")
	}

	newPos, err := queue.MoveToBack(ctx, jobs[0].ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, newPos)
}

func TestMoveToBackLoneJobStaysPut(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	job := queuedTestJob(t, svc, "s1")
	newPos, err := svc.Queue().MoveToBack(ctx, job.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, newPos)
}

func TestMoveToBackErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Queue().MoveToBack(ctx, "no-such-job", 5)
	require.ErrorIs(t, err, ErrJobNotFound)

	unqueued := createTestJob(t, svc, "s1", 2)
	_, err = svc.Queue().MoveToBack(ctx, unqueued.ID, 5)
	require.ErrorIs(t, err, ErrNotInQueue)
}

func TestFrontAndPositionFor(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	queue := svc.Queue()

	front, err := queue.Front(ctx)
	require.NoError(t, err)
	assert.Nil(t, front, "empty queue has no front")

	first := queuedTestJob(t, svc, "alice")
	queuedTestJob(t, svc, "bob")

	front, err = queue.Front(ctx)
	require.NoError(t, err)
	require.NotNil(t, front)
	assert.Equal(t, first.ID, front.JobID)
	assert.Equal(t, 1, front.Position)

	entry, err := queue.PositionFor(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 2, entry.Position)

	entry, err = queue.PositionFor(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestSnapshotSeparatesCurrentJob(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first := queuedTestJob(t, svc, "alice")
	queuedTestJob(t, svc, "bob")

	called, err := svc.CallNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, called)

	_, err = svc.Confirm(ctx, first.ID, "alice", called.UPID)
	require.NoError(t, err)

	snap, err := svc.Queue().Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Total)
	require.NotNil(t, snap.CurrentJob)
	assert.Equal(t, first.ID, snap.CurrentJob.JobID)
	assert.Equal(t, StatusPrinting, snap.CurrentJob.Status)
	require.Len(t, snap.Waiting, 1)
	assert.Equal(t, "bob", snap.Waiting[0].StudentID)
}
