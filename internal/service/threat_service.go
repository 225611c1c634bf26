package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/citygrid-api/internal/models"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
)

type threatStore interface {
	InsertEvent(ctx context.Context, event *models.ThreatEvent) error
	AdjustScore(ctx context.Context, name string, delta int, now time.Time) (int, error)
	Score(ctx context.Context, name string) (int, error)
	RecentEvents(ctx context.Context, limit int) ([]models.ThreatEvent, error)
}

// ThreatEventInput describes an event to record.
type ThreatEventInput struct {
	Type      models.ThreatEventType
	Severity  models.Severity
	AccountID string
	Endpoint  string
	IP        string
	Detail    string
}

// ThreatScoreChange is delivered to observers after the global score moves.
type ThreatScoreChange struct {
	Score         int
	Level         models.ThreatLevel
	PreviousLevel models.ThreatLevel
	Cause         string
	Event         *models.ThreatEvent
	At            time.Time
}

// LevelChanged reports whether the change crossed a policy threshold.
func (c ThreatScoreChange) LevelChanged() bool {
	return c.Level != c.PreviousLevel
}

// ThreatObserver is notified after each score change, on the caller's
// goroutine. Observers that do I/O go behind a ThreatDispatcher.
type ThreatObserver interface {
	ThreatScoreChanged(ctx context.Context, change ThreatScoreChange)
}

// ThreatConfig holds policy thresholds and decay tuning.
type ThreatConfig struct {
	LockdownThreshold   int
	RestrictedThreshold int
	DecayAmount         int
}

// ThreatService maintains the global threat score.
type ThreatService struct {
	store     threatStore
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       ThreatConfig
	observers []ThreatObserver
	now       func() time.Time

	mu        sync.Mutex
	lastLevel models.ThreatLevel
}

// NewThreatService constructs a ThreatService.
func NewThreatService(store threatStore, metrics *MetricsService, logger *zap.Logger, cfg ThreatConfig, observers ...ThreatObserver) *ThreatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LockdownThreshold <= 0 {
		cfg.LockdownThreshold = 80
	}
	if cfg.RestrictedThreshold <= 0 {
		cfg.RestrictedThreshold = 90
	}
	if cfg.DecayAmount <= 0 {
		cfg.DecayAmount = 5
	}
	return &ThreatService{
		store:     store,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
		observers: observers,
		now:       func() time.Time { return time.Now().UTC() },
		lastLevel: models.ThreatLevelNormal,
	}
}

// Level maps a score onto the policy state.
func (s *ThreatService) Level(score int) models.ThreatLevel {
	switch {
	case score > s.cfg.RestrictedThreshold:
		return models.ThreatLevelRestricted
	case score > s.cfg.LockdownThreshold:
		return models.ThreatLevelLockdown
	default:
		return models.ThreatLevelNormal
	}
}

// RecordEvent persists the event and raises the global score by its severity.
func (s *ThreatService) RecordEvent(ctx context.Context, input ThreatEventInput) (int, error) {
	if !input.Type.Valid() {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown threat event type %q", input.Type))
	}
	delta := input.Severity.Delta()
	if delta == 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown severity %q", input.Severity))
	}

	now := s.now()
	event := &models.ThreatEvent{
		Type:      input.Type,
		Severity:  input.Severity,
		Endpoint:  input.Endpoint,
		IP:        input.IP,
		Detail:    input.Detail,
		CreatedAt: now,
	}
	if input.AccountID != "" {
		accountID := input.AccountID
		event.AccountID = &accountID
	}
	if err := s.store.InsertEvent(ctx, event); err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record threat event")
	}
	s.metrics.ObserveThreatEvent(string(input.Type), string(input.Severity))

	score, err := s.store.AdjustScore(ctx, models.GlobalThreatScore, delta, now)
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to raise threat score")
	}

	s.logger.Warn("threat event recorded",
		zap.String("type", string(input.Type)),
		zap.String("severity", string(input.Severity)),
		zap.String("account_id", input.AccountID),
		zap.String("endpoint", input.Endpoint),
		zap.Int("score", score),
	)
	s.publish(ctx, score, string(input.Type), event, now)
	return score, nil
}

// Decay lowers the global score by the configured amount, never below zero.
func (s *ThreatService) Decay(ctx context.Context) (int, error) {
	now := s.now()
	score, err := s.store.AdjustScore(ctx, models.GlobalThreatScore, -s.cfg.DecayAmount, now)
	if err != nil {
		return 0, fmt.Errorf("decay threat score: %w", err)
	}
	s.publish(ctx, score, "decay", nil, now)
	return score, nil
}

// Score returns the current global score.
func (s *ThreatService) Score(ctx context.Context) (int, error) {
	score, err := s.store.Score(ctx, models.GlobalThreatScore)
	if err != nil {
		return 0, fmt.Errorf("read threat score: %w", err)
	}
	s.metrics.SetThreatScore(score)
	return score, nil
}

// State returns the score together with its level.
func (s *ThreatService) State(ctx context.Context) (*models.ThreatState, error) {
	score, err := s.Score(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load threat state")
	}
	return &models.ThreatState{Score: score, Level: s.Level(score)}, nil
}

// RecentEvents lists the newest events.
func (s *ThreatService) RecentEvents(ctx context.Context, limit int) ([]models.ThreatEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	events, err := s.store.RecentEvents(ctx, limit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list threat events")
	}
	return events, nil
}

func (s *ThreatService) publish(ctx context.Context, score int, cause string, event *models.ThreatEvent, at time.Time) {
	s.metrics.SetThreatScore(score)
	level := s.Level(score)

	s.mu.Lock()
	previous := s.lastLevel
	s.lastLevel = level
	s.mu.Unlock()

	change := ThreatScoreChange{
		Score:         score,
		Level:         level,
		PreviousLevel: previous,
		Cause:         cause,
		Event:         event,
		At:            at,
	}
	if change.LevelChanged() {
		s.logger.Warn("threat level changed",
			zap.String("from", string(previous)),
			zap.String("to", string(level)),
			zap.Int("score", score),
		)
	}
	for _, observer := range s.observers {
		observer.ThreatScoreChanged(ctx, change)
	}
}

type threatDecayer interface {
	Decay(ctx context.Context) (int, error)
}

// DecayScheduler lowers the threat score on a fixed interval in its own goroutine.
type DecayScheduler struct {
	decayer  threatDecayer
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDecayScheduler constructs a scheduler. The interval defaults to five minutes.
func NewDecayScheduler(decayer threatDecayer, interval time.Duration, logger *zap.Logger) *DecayScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &DecayScheduler{decayer: decayer, interval: interval, logger: logger}
}

// Start launches the ticker loop. It returns immediately; calling it twice is a no-op.
func (d *DecayScheduler) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.loop(ctx)
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (d *DecayScheduler) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
}

func (d *DecayScheduler) loop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *DecayScheduler) tick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, d.interval)
	defer cancel()
	score, err := d.decayer.Decay(tickCtx)
	if err != nil {
		d.logger.Warn("threat decay failed", zap.Error(err))
		return
	}
	d.logger.Debug("threat score decayed", zap.Int("score", score))
}
