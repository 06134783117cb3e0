package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/metrics"
)

// ErrRegistryNotLoaded is returned by Snapshot while a configured source has
// never been read successfully.
var ErrRegistryNotLoaded = errors.New("shop registry not loaded")

// TenantSource 持久化的店铺列表
type TenantSource interface {
	ListAll(ctx context.Context) ([]*model.Tenant, error)
}

// TenantRegistry 内存中的店铺注册表，准入网关每次请求读取其快照
//
// Seed shops come from config. When a source is configured its rows are
// overlaid on the seeds on every refresh. Stored tenants are never mutated in
// place, so a snapshot stays valid after later updates.
type TenantRegistry struct {
	mu       sync.RWMutex
	seeds    map[string]*model.Tenant
	tenants  map[string]*model.Tenant
	snapshot []*model.Tenant
	loaded   bool

	source   TenantSource
	interval time.Duration
	logger   *slog.Logger

	lastRefresh time.Time
	lastErr     error

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewTenantRegistry(seeds []*model.Tenant, source TenantSource, interval time.Duration, logger *slog.Logger) *TenantRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &TenantRegistry{
		seeds:    make(map[string]*model.Tenant, len(seeds)),
		tenants:  make(map[string]*model.Tenant, len(seeds)),
		source:   source,
		interval: interval,
		logger:   logger,
		loaded:   source == nil,
		stop:     make(chan struct{}),
	}
	for _, t := range seeds {
		if t == nil || t.ID == "" {
			continue
		}
		r.seeds[t.ID] = t.Clone()
		r.tenants[t.ID] = t.Clone()
	}
	r.rebuildLocked()
	return r
}

// Snapshot returns the current shops ordered by creation time then ID.
// The slice and its elements must be treated as read-only.
func (r *TenantRegistry) Snapshot(ctx context.Context) ([]*model.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.loaded {
		if r.lastErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrRegistryNotLoaded, r.lastErr)
		}
		return nil, ErrRegistryNotLoaded
	}
	return r.snapshot, nil
}

// Refresh reloads the source. On failure the previous snapshot is kept.
func (r *TenantRegistry) Refresh(ctx context.Context) error {
	if r.source == nil {
		return nil
	}
	rows, err := r.source.ListAll(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRefresh = time.Now()
	r.lastErr = err
	if err != nil {
		return fmt.Errorf("refresh shops: %w", err)
	}

	next := make(map[string]*model.Tenant, len(r.seeds)+len(rows))
	for id, t := range r.seeds {
		next[id] = t
	}
	for _, t := range rows {
		if t == nil || t.ID == "" {
			continue
		}
		next[t.ID] = t.Clone()
	}
	r.tenants = next
	r.loaded = true
	r.rebuildLocked()
	return nil
}

// Start refreshes once and then on every interval until Close.
func (r *TenantRegistry) Start(ctx context.Context) {
	if r.source == nil {
		return
	}
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("initial shop refresh failed", "error", err)
	}
	if r.interval <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.Refresh(ctx); err != nil {
					r.logger.Warn("shop refresh failed, serving previous snapshot", "error", err)
				}
			case <-ctx.Done():
				return
			case <-r.stop:
				return
			}
		}
	}()
}

func (r *TenantRegistry) Close() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *TenantRegistry) Register(t *model.Tenant) {
	if t == nil || t.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[t.ID] = t.Clone()
	r.rebuildLocked()
}

func (r *TenantRegistry) Replace(t *model.Tenant) {
	r.Register(t)
}

func (r *TenantRegistry) RemoveByID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tenants, id)
	delete(r.seeds, id)
	r.rebuildLocked()
}

func (r *TenantRegistry) GetByID(id string) (*model.Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	return t.Clone(), ok
}

// List returns copies of every shop in snapshot order.
func (r *TenantRegistry) List() []*model.Tenant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Tenant, 0, len(r.snapshot))
	for _, t := range r.snapshot {
		out = append(out, t.Clone())
	}
	return out
}

type RegistryStatus struct {
	Shops       int       `json:"shops"`
	Loaded      bool      `json:"loaded"`
	Persistent  bool      `json:"persistent"`
	LastRefresh time.Time `json:"last_refresh,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
}

func (r *TenantRegistry) Status() RegistryStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := RegistryStatus{
		Shops:       len(r.snapshot),
		Loaded:      r.loaded,
		Persistent:  r.source != nil,
		LastRefresh: r.lastRefresh,
	}
	if r.lastErr != nil {
		s.LastError = r.lastErr.Error()
	}
	return s
}

func (r *TenantRegistry) rebuildLocked() {
	snap := make([]*model.Tenant, 0, len(r.tenants))
	for _, t := range r.tenants {
		snap = append(snap, t)
	}
	sort.Slice(snap, func(i, j int) bool {
		if !snap[i].CreatedAt.Equal(snap[j].CreatedAt) {
			return snap[i].CreatedAt.Before(snap[j].CreatedAt)
		}
		return snap[i].ID < snap[j].ID
	})
	r.snapshot = snap
	metrics.RegisteredShops.Set(float64(len(snap)))
}
