package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job := NewJob(KindNormalization, "proj")
	require.NoError(t, store.Put(ctx, job))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "proj", got.ProjectID)
	assert.NotEmpty(t, got.CreatedAt)
}

func TestMemoryStoreGetUnknown(t *testing.T) {
	store := NewMemoryStore()
	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	updated, err := store.Update(context.Background(), "nope", func(*Job) {})
	require.NoError(t, err)
	assert.Nil(t, updated)
}

func TestMemoryStoreUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	job := NewJob(KindIndexing, "proj")
	require.NoError(t, store.Put(ctx, job))

	updated, err := store.Update(ctx, job.ID, func(j *Job) {
		j.Status = StatusRunning
		j.FilesTotal = 7
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, updated.Status)
	assert.Equal(t, 7, updated.FilesTotal)

	// Stored copies are isolated from caller mutations.
	updated.FilesTotal = 99
	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.FilesTotal)
}

func TestJobTerminal(t *testing.T) {
	job := NewJob(KindIndexing, "proj")
	assert.False(t, job.Terminal())
	for _, status := range []Status{StatusComplete, StatusFailed, StatusCancelled} {
		job.Status = status
		assert.True(t, job.Terminal(), string(status))
	}
	job.Status = StatusRunning
	assert.False(t, job.Terminal())
}
