package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nateliu28/querydeck/internal/permissions"
	"github.com/nateliu28/querydeck/internal/services"
	"github.com/nateliu28/querydeck/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultExpirySpec         = "@every 1m"
	defaultAuditSpec          = "@daily"
)

// Sweeper coordinates background maintenance: deactivating expired grants
// (and evicting their cached decisions) and pruning stale audit logs.
type Sweeper struct {
	grants    *permissions.GrantStore
	cache     permissions.CacheInvalidator
	audit     *services.AuditService
	cron      *cron.Cron
	log       *zap.Logger
	enabled   bool
	retention int

	expirySchedule string
	auditSchedule  string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(s *Sweeper) {
		if days > 0 {
			s.retention = days
		}
	}
}

// WithExpirySchedule overrides the cron specification for the grant expiry sweep.
func WithExpirySchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.expirySchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.auditSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults. Any nil dependency
// results in the corresponding sweep being skipped.
func NewSweeper(grants *permissions.GrantStore, cache permissions.CacheInvalidator, audit *services.AuditService, opts ...Option) *Sweeper {
	s := &Sweeper{
		grants:         grants,
		cache:          cache,
		audit:          audit,
		retention:      defaultAuditRetentionDays,
		expirySchedule: defaultExpirySpec,
		auditSchedule:  defaultAuditSpec,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.cron == nil {
		s.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	s.enabled = s.grants != nil || s.audit != nil

	return s
}

// Start registers sweep jobs with the cron scheduler and launches it if at
// least one sweep is enabled.
func (s *Sweeper) Start() error {
	if !s.enabled {
		return nil
	}

	if s.grants != nil {
		if _, err := s.cron.AddFunc(s.expirySchedule, func() {
			if err := s.sweepExpired(context.Background()); err != nil {
				s.log.Warn("grant expiry sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if s.audit != nil && s.retention > 0 {
		if _, err := s.cron.AddFunc(s.auditSchedule, func() {
			if _, err := s.audit.CleanupOlderThan(context.Background(), s.retention); err != nil {
				s.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (s *Sweeper) Stop() context.Context {
	if s.cron == nil {
		return context.Background()
	}
	return s.cron.Stop()
}

// RunOnce executes all configured sweeps sequentially. Primarily used in
// tests and during graceful shutdown.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if s.grants != nil {
		if err := s.sweepExpired(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if s.audit != nil && s.retention > 0 {
		if _, err := s.audit.CleanupOlderThan(ctx, s.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// sweepExpired deactivates grants past their expiry and evicts cached
// decisions for every touched (user, connection) pair. The resolver already
// ignores expired rows, so a missed sweep never widens access.
func (s *Sweeper) sweepExpired(ctx context.Context) error {
	start := time.Now()

	pairs, err := s.grants.DeactivateExpired(ctx)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	if s.cache != nil {
		for _, pair := range pairs {
			s.cache.InvalidateUserConnection(pair.UserID, pair.ConnectionID)
		}
	}

	s.log.Info("expired grants deactivated",
		zap.Int("pairs", len(pairs)),
		zap.Duration("took", time.Since(start)))
	return nil
}
