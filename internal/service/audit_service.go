package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/internal/models"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
)

type auditStore interface {
	Insert(ctx context.Context, entry *models.AuditLog) error
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, int, error)
}

type auditThrottle interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type suppressionWindow struct {
	count   int
	endsAt  time.Time
	touched time.Time
}

// AuditService records access decisions. Identical (ip, endpoint, outcome)
// events inside one window produce a single durable row; the rest are counted
// in memory and the count is carried into the next durable row.
type AuditService struct {
	store    auditStore
	throttle auditThrottle
	metrics  *MetricsService
	logger   *zap.Logger
	window   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	windows map[string]*suppressionWindow
}

// NewAuditService constructs an AuditService. The window defaults to 10s.
func NewAuditService(store auditStore, throttle auditThrottle, metrics *MetricsService, logger *zap.Logger, window time.Duration) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	return &AuditService{
		store:    store,
		throttle: throttle,
		metrics:  metrics,
		logger:   logger,
		window:   window,
		now:      func() time.Time { return time.Now().UTC() },
		windows:  make(map[string]*suppressionWindow),
	}
}

// ThrottleKey identifies a class of identical events.
func ThrottleKey(ip, endpoint string, outcome models.Outcome) string {
	sum := sha256.Sum256([]byte(ip + "|" + endpoint + "|" + string(outcome)))
	return hex.EncodeToString(sum[:16])
}

// LogAction writes entry unless an identical event was already written in the
// current window. It reports whether a durable row was written.
func (s *AuditService) LogAction(ctx context.Context, entry *models.AuditLog) (bool, error) {
	key := ThrottleKey(entry.IP, entry.Endpoint, entry.Outcome)
	now := s.now()

	acquired, err := s.throttle.Acquire(ctx, key, s.window)
	if err != nil {
		s.logger.Warn("audit throttle unavailable; writing entry", zap.Error(err))
		acquired = true
	}

	if !acquired {
		s.suppress(key, now)
		s.metrics.ObserveAuditSuppressed()
		return false, nil
	}

	carried := s.reseed(key, now)
	entry.SuppressedCount = carried
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if err := s.store.Insert(ctx, entry); err != nil {
		s.metrics.ObserveAuditWrite("error")
		s.logger.Error("failed to persist audit entry",
			zap.String("endpoint", entry.Endpoint),
			zap.String("outcome", string(entry.Outcome)),
			zap.Error(err),
		)
		// The window produced no row: reopen it for the next identical event.
		s.restore(key, carried, now)
		if relErr := s.throttle.Release(ctx, key); relErr != nil {
			s.logger.Warn("failed to release audit throttle", zap.Error(relErr))
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write audit entry")
	}
	s.metrics.ObserveAuditWrite("ok")
	return true, nil
}

// Suppressed returns how many identical events were suppressed since the last durable write.
func (s *AuditService) Suppressed(ip, endpoint string, outcome models.Outcome) int {
	key := ThrottleKey(ip, endpoint, outcome)
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.windows[key]; ok {
		return w.count
	}
	return 0
}

// List returns a page of audit entries.
func (s *AuditService) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditLog, *models.Pagination, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "to must not be before from")
	}
	entries, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit entries")
	}
	return entries, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

func (s *AuditService) suppress(key string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(now)
	w, ok := s.windows[key]
	if !ok {
		// Another instance owns the durable write for this window.
		w = &suppressionWindow{endsAt: now.Add(s.window)}
		s.windows[key] = w
	}
	w.count++
	w.touched = now
}

// reseed starts a new window for key and returns the count carried from the previous one.
func (s *AuditService) reseed(key string, now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(now)
	carried := 0
	if w, ok := s.windows[key]; ok {
		carried = w.count
	}
	s.windows[key] = &suppressionWindow{endsAt: now.Add(s.window), touched: now}
	return carried
}

// restore puts a carried count back after a failed durable write and ends the
// window so it is claimed by the next written row.
func (s *AuditService) restore(key string, carried int, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		w = &suppressionWindow{}
		s.windows[key] = w
	}
	w.count += carried
	w.endsAt = now
	w.touched = now
}

// prune drops windows that ended with nothing suppressed, and windows whose
// pending count went unclaimed for a further full window. Callers hold mu.
func (s *AuditService) prune(now time.Time) {
	for key, w := range s.windows {
		if now.Before(w.endsAt) {
			continue
		}
		if w.count == 0 || now.Sub(w.touched) > s.window {
			delete(s.windows, key)
		}
	}
}
