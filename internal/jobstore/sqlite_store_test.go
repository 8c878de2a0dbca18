package jobstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexatlas/hexgrid/internal/spatial"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newJob(id string) *Job {
	return &Job{
		ID:        id,
		Status:    JobStatusQueued,
		Params:    JobParams{North: 56, West: 37.3, South: 55.5, East: 37.9, Resolution: 6},
		CreatedAt: time.Now(),
	}
}

func TestCreateAndGetJob(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.NoError(t, s.CreateJob(newJob("a")))

	job, err := s.GetJob("a")
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, job.Status)
	assert.Equal(t, 6, job.Params.Resolution)
	assert.InDelta(t, 37.9, job.Params.East, 1e-12)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.FinishedAt)

	_, err = s.GetJob("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResultLifecycle(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.NoError(t, s.CreateJob(newJob("a")))
	require.NoError(t, s.UpdateJobStarted("a"))

	job, err := s.GetJob("a")
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.NotNil(t, job.StartedAt)

	_, err = s.Result("a")
	assert.ErrorIs(t, err, ErrNotFound)

	cells := []spatial.CellID{0x8928308280fffff, 0x8928308280bffff, 0x89283082807ffff}
	require.NoError(t, s.SaveResult("a", cells))

	job, err = s.GetJob("a")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.CellCount)
	assert.NotNil(t, job.FinishedAt)

	got, err := s.Result("a")
	require.NoError(t, err)
	assert.Equal(t, cells, got)

	assert.ErrorIs(t, s.SaveResult("missing", cells), ErrNotFound)
}

func TestEmptyResult(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.NoError(t, s.CreateJob(newJob("a")))
	require.NoError(t, s.SaveResult("a", nil))

	got, err := s.Result("a")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMarkUnfinishedAsFailed(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	for _, id := range []string{"q", "r", "c"} {
		require.NoError(t, s.CreateJob(newJob(id)))
	}
	require.NoError(t, s.UpdateJobStarted("r"))
	require.NoError(t, s.SaveResult("c", []spatial.CellID{1}))

	n, err := s.MarkUnfinishedAsFailed("server restarted")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, id := range []string{"q", "r"} {
		job, err := s.GetJob(id)
		require.NoError(t, err)
		assert.Equal(t, JobStatusFailed, job.Status)
		assert.Equal(t, "server restarted", job.Error)
	}
	job, err := s.GetJob("c")
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, job.Status)

	queued, err := s.ListQueuedJobs()
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestDeleteExpiredJobs(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.NoError(t, s.CreateJob(newJob("done")))
	require.NoError(t, s.SaveResult("done", []spatial.CellID{7}))
	require.NoError(t, s.CreateJob(newJob("pending")))

	n, err := s.DeleteExpiredJobs(24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.DeleteExpiredJobs(-time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetJob("done")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Result("done")
	assert.ErrorIs(t, err, ErrNotFound)

	jobs, err := s.ListJobs(0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "pending", jobs[0].ID)
}

func TestDeleteJob(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	require.NoError(t, s.CreateJob(newJob("a")))
	require.NoError(t, s.SaveResult("a", []spatial.CellID{1, 2}))
	require.NoError(t, s.DeleteJob("a"))

	_, err := s.Result("a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteJob("a"), ErrNotFound)
}

func TestCellCodec(t *testing.T) {
	t.Parallel()

	_, err := decodeCells([]byte{1, 2, 3})
	assert.Error(t, err)

	cells := []spatial.CellID{1, 1 << 63, 0x8928308280fffff}
	got, err := decodeCells(encodeCells(cells))
	require.NoError(t, err)
	assert.Equal(t, cells, got)
}
