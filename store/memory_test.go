package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_InsertLookupUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	t0 := time.Date(2023, time.August, 16, 14, 48, 0, 0, time.UTC)

	_, ok, err := m.Lookup(ctx, "1.2.3.4", "a@x", "b@y")
	require.NoError(t, err)
	assert.False(t, ok, "unknown triplet shouldn't be found")

	require.NoError(t, m.Insert(ctx, "1.2.3.4", "a@x", "b@y", 0, t0))
	require.NoError(t, m.Insert(ctx, "1.2.3.4", "A@X", "b@y", 5, t0.Add(time.Hour)))
	tr, ok, err := m.Lookup(ctx, "1.2.3.4", "a@x", "B@Y")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, tr.Count, "second insert shouldn't overwrite the record")
	assert.Equal(t, t0, tr.CreatedAt)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Update(ctx, "1.2.3.4", "a@x", "b@y", 2, t0.Add(time.Minute)))
	tr, _, _ = m.Lookup(ctx, "1.2.3.4", "a@x", "b@y")
	assert.Equal(t, 2, tr.Count)
	assert.Equal(t, t0.Add(time.Minute), tr.CreatedAt)

	require.NoError(t, m.Update(ctx, "5.6.7.8", "a@x", "b@y", 2, t0))
	assert.Equal(t, 1, m.Len(), "update shouldn't create records")
}

func TestMemory_Cleanup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	t0 := time.Date(2023, time.August, 16, 14, 48, 0, 0, time.UTC)

	m.Insert(ctx, "1.1.1.1", "old@x", "r@y", 0, t0)
	m.Insert(ctx, "1.1.1.1", "new@x", "r@y", 0, t0.Add(2*time.Hour))
	m.Insert(ctx, "1.1.1.1", "white@x", "r@y", 3, t0)

	require.NoError(t, m.CleanupUnseen(ctx, t0.Add(time.Hour)))
	_, ok, _ := m.Lookup(ctx, "1.1.1.1", "old@x", "r@y")
	assert.False(t, ok, "old unseen triplet should be removed")
	_, ok, _ = m.Lookup(ctx, "1.1.1.1", "new@x", "r@y")
	assert.True(t, ok, "recent unseen triplet should be kept")
	_, ok, _ = m.Lookup(ctx, "1.1.1.1", "white@x", "r@y")
	assert.True(t, ok, "whitelisted triplet shouldn't be removed by unseen cleanup")

	require.NoError(t, m.CleanupAutoWhitelist(ctx, t0.Add(time.Hour)))
	_, ok, _ = m.Lookup(ctx, "1.1.1.1", "white@x", "r@y")
	assert.False(t, ok, "old whitelisted triplet should be removed")
	assert.Equal(t, 1, m.Len())
}

func TestMemory_ConcurrentInsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Insert(ctx, "1.2.3.4", "a@x", "b@y", 0, time.Unix(int64(i), 0))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, m.Len(), "concurrent first contacts should create one record")
}

func TestOpen(t *testing.T) {
	s, err := Open("memory", "")
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open("cassandra", "x")
	assert.Error(t, err)

	_, err = Open("mysql", "")
	assert.Error(t, err, "sql store without dsn should fail")
}
