package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopCheckpointerLoadReturnsNotFound(t *testing.T) {
	_, err := NoopCheckpointer{}.Load(context.Background(), "any-job")
	require.Error(t, err)
}

func TestNoopCheckpointerSaveSucceeds(t *testing.T) {
	require.NoError(t, NoopCheckpointer{}.Save(context.Background(), Checkpoint{JobName: "test"}))
}

func TestNoopCheckpointerLoadAllReturnsEmpty(t *testing.T) {
	cps, err := NoopCheckpointer{}.LoadAll(context.Background(), "any-job")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestInMemoryLoadReturnsNewest(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, Checkpoint{JobName: "job-a", Cursor: []byte("1"), UpdatedAt: 100}))
	require.NoError(t, store.Save(ctx, Checkpoint{JobName: "job-a", Cursor: []byte("2"), UpdatedAt: 200}))

	cp, err := store.Load(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, int64(200), cp.UpdatedAt)
}

func TestInMemoryRetainsOnlyNewest20(t *testing.T) {
	store := NewInMemory()
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, store.Save(ctx, Checkpoint{
			JobName:   "job-b",
			Cursor:    []byte{byte(i)},
			UpdatedAt: int64(i),
		}))
	}

	all, err := store.LoadAll(ctx, "job-b")
	require.NoError(t, err)
	require.Len(t, all, maxCheckpointsPerJob)
	assert.Equal(t, int64(24), all[0].UpdatedAt)
	assert.Equal(t, int64(5), all[len(all)-1].UpdatedAt)
}

func TestInMemoryLoadUnknownJobFails(t *testing.T) {
	store := NewInMemory()
	_, err := store.Load(context.Background(), "unknown")
	require.Error(t, err)
}
