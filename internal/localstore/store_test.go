package localstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/techassess/internal/clock"
	"github.com/stemsi/techassess/internal/model"
)

var epoch = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

type countingKV struct {
	*MemoryKV
	puts int
}

func (c *countingKV) Put(ctx context.Context, key string, value []byte) error {
	c.puts++
	return c.MemoryKV.Put(ctx, key, value)
}

func newModel() *model.ResponseModel {
	return model.NewResponseModel(model.Universe{
		MCQ: map[int]int{1: 4},
		SQL: map[int]struct{}{1: {}},
	})
}

func TestTouchDebounces(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(epoch)
	kv := &countingKV{MemoryKV: NewMemoryKV()}
	m := newModel()
	s := New(kv, "abc", m.Snapshot, Options{Clock: fc, Logger: zerolog.Nop()})

	for i := range 5 {
		_, _ = m.SetSQL(1, "23:4"+string(rune('0'+i)))
		s.Touch()
		fc.Advance(100 * time.Millisecond)
	}
	require.Zero(t, kv.puts)
	require.True(t, s.Pending())

	fc.Advance(DefaultQuiet)
	require.Equal(t, 1, kv.puts)
	require.False(t, s.Pending())

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, "23:44", snap.SQL[1])
	require.True(t, snap.SavedAt.Equal(epoch.Add(400*time.Millisecond+DefaultQuiet)))
}

func TestFlushWritesImmediatelyAndCancels(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(epoch)
	kv := &countingKV{MemoryKV: NewMemoryKV()}
	m := newModel()
	s := New(kv, "abc", m.Snapshot, Options{Clock: fc, Logger: zerolog.Nop()})

	_, _ = m.SetMCQ(1, 2)
	s.Touch()
	require.NoError(t, s.Flush(ctx))
	require.Equal(t, 1, kv.puts)

	fc.Advance(time.Second)
	require.Equal(t, 1, kv.puts)
}

func TestLoadMissingAndClear(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	m := newModel()
	s := New(kv, "abc", m.Snapshot, Options{Clock: clock.NewFake(epoch), Logger: zerolog.Nop()})

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, snap)

	require.NoError(t, s.Flush(ctx))
	require.Equal(t, []string{"techassess:progress:abc"}, kv.Keys())
	require.NoError(t, s.Clear(ctx))
	require.Empty(t, kv.Keys())
}

func TestLoadCorruptEntry(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	require.NoError(t, kv.Put(ctx, Key("abc"), []byte{0xff, 0x00}))
	s := New(kv, "abc", newModel().Snapshot, Options{Logger: zerolog.Nop()})

	_, err := s.Load(ctx)
	require.Error(t, err)
}

func TestSQLiteKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "local.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	_, err = kv.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	m := newModel()
	_, _ = m.SetMCQ(1, 3)
	_, _ = m.SetSQL(1, "23:45")
	s := New(kv, "sess-1", m.Snapshot, Options{Clock: clock.NewFake(epoch), Logger: zerolog.Nop()})
	require.NoError(t, s.Flush(ctx))

	_, _ = m.SetSQL(1, "23:46")
	require.NoError(t, s.Flush(ctx))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, snap.MCQ[1])
	require.Equal(t, "23:46", snap.SQL[1])
	require.True(t, snap.SavedAt.Equal(epoch))

	require.NoError(t, s.Clear(ctx))
	snap, err = s.Load(ctx)
	require.NoError(t, err)
	require.Nil(t, snap)
}
