package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
)

type fakeSource struct {
	mu   sync.Mutex
	rows []*model.Tenant
	err  error
	hits int
}

func (f *fakeSource) ListAll(ctx context.Context) ([]*model.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits++
	if f.err != nil {
		return nil, f.err
	}
	return f.rows, nil
}

func (f *fakeSource) set(rows []*model.Tenant, err error) {
	f.mu.Lock()
	f.rows, f.err = rows, err
	f.mu.Unlock()
}

func (f *fakeSource) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits
}

func TestRegistrySeedsOnly(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := shop("b", "b.com", model.TenantActive)
	b.CreatedAt = base
	a := shop("a", "a.com", model.TenantActive)
	a.CreatedAt = base.Add(time.Hour)

	r := NewTenantRegistry([]*model.Tenant{a, b, nil}, nil, 0, nil)
	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, "b", snap[0].ID, "older shops come first")

	a.Name = "mutated"
	got, ok := r.GetByID("a")
	require.True(t, ok)
	assert.Equal(t, "a", got.Name, "registry keeps its own copy")
}

func TestRegistrySnapshotIsStableAcrossUpdates(t *testing.T) {
	r := NewTenantRegistry([]*model.Tenant{shop("a", "a.com", model.TenantPending)}, nil, 0, nil)
	before, _ := r.Snapshot(context.Background())

	r.Replace(shop("a", "a.com", model.TenantActive))
	r.Register(shop("c", "c.com", model.TenantActive))

	assert.Equal(t, model.TenantPending, before[0].Status)
	assert.Len(t, before, 1)

	after, _ := r.Snapshot(context.Background())
	assert.Len(t, after, 2)

	r.RemoveByID("a")
	_, ok := r.GetByID("a")
	assert.False(t, ok)
	assert.Len(t, r.List(), 1)
}

func TestRegistryFailsClosedUntilLoaded(t *testing.T) {
	src := &fakeSource{err: errors.New("db down")}
	r := NewTenantRegistry(nil, src, 0, nil)

	_, err := r.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrRegistryNotLoaded)

	assert.Error(t, r.Refresh(context.Background()))
	_, err = r.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrRegistryNotLoaded)
	assert.Contains(t, err.Error(), "db down")

	src.set([]*model.Tenant{shop("db", "db.com", model.TenantActive)}, nil)
	require.NoError(t, r.Refresh(context.Background()))
	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap, 1)

	// later failures keep serving the last good snapshot
	src.set(nil, errors.New("db down again"))
	assert.Error(t, r.Refresh(context.Background()))
	snap, err = r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap, 1)
	assert.Equal(t, "db down again", r.Status().LastError)
}

func TestRegistryRefreshOverlaysSeeds(t *testing.T) {
	src := &fakeSource{rows: []*model.Tenant{
		shop("seed", "seed.com", model.TenantInactive),
		shop("db", "db.com", model.TenantActive),
	}}
	r := NewTenantRegistry([]*model.Tenant{
		shop("seed", "seed.com", model.TenantActive),
		shop("only-seed", "only.com", model.TenantActive),
	}, src, 0, nil)

	require.NoError(t, r.Refresh(context.Background()))
	got, ok := r.GetByID("seed")
	require.True(t, ok)
	assert.Equal(t, model.TenantInactive, got.Status, "persistent rows win over seeds")
	assert.Len(t, r.List(), 3)

	st := r.Status()
	assert.True(t, st.Loaded)
	assert.True(t, st.Persistent)
	assert.Equal(t, 3, st.Shops)
}

func TestRegistryStartRefreshesPeriodically(t *testing.T) {
	src := &fakeSource{rows: []*model.Tenant{shop("db", "db.com", model.TenantActive)}}
	r := NewTenantRegistry(nil, src, 10*time.Millisecond, nil)

	r.Start(context.Background())
	defer r.Close()

	assert.Eventually(t, func() bool { return src.count() >= 3 }, time.Second, 5*time.Millisecond)
	snap, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap, 1)

	r.Close()
	n := src.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, src.count(), "no refresh after Close")
}
