package store_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/modcache/pkg/daemon/store"
	"github.com/jamesainslie/modcache/pkg/modcache/types"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func put(t *testing.T, s *store.Store, kind store.Kind, started time.Time) *store.Record {
	t.Helper()
	rec, err := store.NewRecord("", kind, started, time.Second, string(kind), nil)
	require.NoError(t, err)
	require.NoError(t, s.Put(rec))
	return rec
}

func TestPutAndListNewestFirst(t *testing.T) {
	s := openStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	a := put(t, s, store.KindScan, base)
	b := put(t, s, store.KindEvict, base.Add(time.Hour))
	c := put(t, s, store.KindScan, base.Add(2*time.Hour))

	all, err := s.List(0, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := s.List(2, "")
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	scans, err := s.List(0, store.KindScan)
	require.NoError(t, err)
	require.Len(t, scans, 2)
	assert.Equal(t, c.ID, scans[0].ID)
}

func TestRecordDetailRoundTrip(t *testing.T) {
	s := openStore(t)
	in := types.ScanResult{Candidates: 10, Added: 3}
	rec, err := store.NewRecord("fixed-id", store.KindScan, time.Now(), time.Minute, "scan: 3 added", in)
	require.NoError(t, err)
	require.NoError(t, s.Put(rec))

	got, err := s.Get("fixed-id")
	require.NoError(t, err)
	assert.Equal(t, "scan: 3 added", got.Summary)

	var out types.ScanResult
	require.NoError(t, got.Decode(&out))
	assert.Equal(t, int64(10), out.Candidates)
	assert.Equal(t, int64(3), out.Added)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPrune(t *testing.T) {
	s := openStore(t)
	now := time.Now()
	put(t, s, store.KindScan, now.Add(-40*24*time.Hour))
	put(t, s, store.KindVerify, now.Add(-31*24*time.Hour))
	keep := put(t, s, store.KindScan, now.Add(-time.Hour))

	n, err := s.Prune(now.Add(-30 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	all, err := s.List(0, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, keep.ID, all[0].ID)

	n, err = s.Prune(now.Add(-30 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClearAndCount(t *testing.T) {
	s := openStore(t)
	put(t, s, store.KindScan, time.Now())
	put(t, s, store.KindScan, time.Now().Add(time.Second))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, s.Clear())
	n, err = s.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)
	rec := put(t, s, store.KindReconcile, time.Now())
	require.NoError(t, s.Close())

	s, err = store.Open(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, store.KindReconcile, got.Kind)
}
