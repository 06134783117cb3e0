package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ElonQian1/QuickTalk--sub006/internal/model"
	"github.com/ElonQian1/QuickTalk--sub006/internal/pkg/metrics"
)

type AccessLogRepo interface {
	Insert(ctx context.Context, entry *model.AccessLog) error
	List(ctx context.Context, filter model.AccessLogFilter) ([]*model.AccessLog, error)
}

type AuditorOptions struct {
	QueueSize    int
	BufferSize   int
	LogDir       string // jsonl 文件目录，空则不落盘
	WriteTimeout time.Duration
}

// AccessAuditor 异步记录准入决策
//
// Record never blocks: entries go through a bounded queue to a single
// consumer that writes the repo and the jsonl file. A full queue drops the
// entry. The in-memory ring buffer always sees every entry.
type AccessAuditor struct {
	mu      sync.RWMutex
	closed  bool
	queue   chan *model.AccessLog
	buffer  *auditBuffer
	repo    AccessLogRepo
	logFile *os.File
	timeout time.Duration

	logger    *slog.Logger
	warnLimit *rate.Limiter
	dropped   atomic.Int64

	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewAccessAuditor(repo AccessLogRepo, opts AuditorOptions, logger *slog.Logger) (*AccessAuditor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1000
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 3 * time.Second
	}

	a := &AccessAuditor{
		queue:     make(chan *model.AccessLog, opts.QueueSize),
		buffer:    newAuditBuffer(opts.BufferSize),
		repo:      repo,
		timeout:   opts.WriteTimeout,
		logger:    logger,
		warnLimit: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}

	if opts.LogDir != "" {
		if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
			return nil, err
		}
		filename := filepath.Join(opts.LogDir, "access-"+time.Now().Format("2006-01-02")+".jsonl")
		f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		a.logFile = f
	}

	a.wg.Add(1)
	go a.consume()
	return a, nil
}

// Record enqueues entry. It assigns ID and CreatedAt when missing.
func (a *AccessAuditor) Record(entry *model.AccessLog) {
	if entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	a.buffer.Add(entry)

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- entry:
	default:
		a.dropped.Add(1)
		metrics.AuditDropped.Inc()
		if a.warnLimit.Allow() {
			a.logger.Warn("access log queue full, dropping entries", "dropped_total", a.dropped.Load())
		}
	}
}

// List prefers the persistent repo and falls back to the ring buffer.
func (a *AccessAuditor) List(ctx context.Context, filter model.AccessLogFilter) ([]*model.AccessLog, error) {
	if a.repo != nil {
		records, err := a.repo.List(ctx, filter)
		if err == nil {
			return records, nil
		}
		a.logger.Warn("access log repo query failed, using memory buffer", "error", err)
	}
	return a.buffer.List(filter), nil
}

func (a *AccessAuditor) Dropped() int64 {
	return a.dropped.Load()
}

func (a *AccessAuditor) consume() {
	defer a.wg.Done()
	var encoder *json.Encoder
	if a.logFile != nil {
		encoder = json.NewEncoder(a.logFile)
	}
	for entry := range a.queue {
		if a.repo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
			err := a.repo.Insert(ctx, entry)
			cancel()
			if err != nil && a.warnLimit.Allow() {
				a.logger.Warn("failed to persist access log", "error", err, "id", entry.ID)
			}
		}
		if encoder != nil {
			if err := encoder.Encode(entry); err != nil && a.warnLimit.Allow() {
				a.logger.Warn("failed to write access log file", "error", err)
			}
		}
	}
}

// Close stops accepting entries and drains the queue.
func (a *AccessAuditor) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()

		a.wg.Wait()
		if a.logFile != nil {
			_ = a.logFile.Close()
		}
	})
}

type auditBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.AccessLog
	nextIndex int
}

func newAuditBuffer(maxSize int) *auditBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &auditBuffer{
		maxSize: maxSize,
		records: make([]*model.AccessLog, 0, maxSize),
	}
}

func (b *auditBuffer) Add(entry *model.AccessLog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, entry)
		return
	}
	b.records[b.nextIndex] = entry
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

// List returns matching entries newest first.
func (b *auditBuffer) List(filter model.AccessLogFilter) []*model.AccessLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.AccessLog, 0, min(limit, len(b.records)))
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		entry := b.records[idx]
		if !filter.Match(entry) {
			continue
		}
		results = append(results, entry)
		if len(results) >= limit {
			break
		}
	}
	return results
}
