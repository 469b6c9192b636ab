// Package optimizer nudges the weekly notification limit toward the
// user's observed engagement. Low response rates earn fewer
// notifications, high ones earn more, inside a hard 1..5 band.
package optimizer

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"homepulse/internal/eventbus"
	"homepulse/internal/services/engage"
	"homepulse/internal/services/prefs"
	logx "homepulse/pkg/logx"
)

// Band limits for the adjusted weekly cap. Narrower than what the user
// may set by hand; the optimizer never pushes outside it.
const (
	minLimit = 1
	maxLimit = 5
)

// Response-rate thresholds for stepping down or up.
const (
	lowRate  = 0.3
	highRate = 0.7
)

// defaultSpec runs the weekly review Sunday 09:00.
const defaultSpec = "0 9 * * 0"

// ProfileSource yields the current engagement profile.
// Implemented by engage.Tracker.
type ProfileSource interface {
	Profile() engage.Profile
}

type Config struct {
	// Spec is a standard 5-field cron expression. Empty means the
	// default Sunday-morning review.
	Spec string
}

func (c *Config) applyDefaults() {
	if c.Spec == "" {
		c.Spec = defaultSpec
	}
}

// Service owns the periodic frequency review.
type Service struct {
	log      logx.Logger
	cfg      Config
	prefs    *prefs.Service
	profiles ProfileSource
	bus      eventbus.Bus

	mu   sync.Mutex
	cron *cron.Cron
}

func New(cfg Config, ps *prefs.Service, profiles ProfileSource, bus eventbus.Bus, log logx.Logger) *Service {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{log: log, cfg: cfg, prefs: ps, profiles: profiles, bus: bus}
}

// Start arms the cron schedule. The ctx only gates startup; use Stop
// for shutdown.
func (s *Service) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Spec, func() {
		if limit, changed := s.Optimize(); changed {
			s.log.Info("weekly limit adjusted", logx.Int("limit", limit))
		}
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	c.Start()
	s.log.Debug("optimizer started", logx.String("spec", s.cfg.Spec))
	return nil
}

// Stop halts the cron schedule, waiting for an in-flight review.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Optimize runs one review: read the profile's response rate, step the
// weekly limit down below 30% or up above 70%, and persist the change
// through the preference store. Returns the effective limit and whether
// it changed.
func (s *Service) Optimize() (int, bool) {
	profile := s.profiles.Profile()
	cur := s.prefs.Get().Frequency.WeeklyLimit

	next := cur
	switch {
	case profile.ResponseRate < lowRate && cur > minLimit:
		next = cur - 1
	case profile.ResponseRate > highRate && cur < maxLimit:
		next = cur + 1
	}
	if next == cur {
		return cur, false
	}

	if _, err := s.prefs.SetWeeklyLimit(next); err != nil {
		s.log.Warn("limit adjustment rejected", logx.Int("limit", next), logx.Err(err))
		return cur, false
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeLimitAdjusted, Data: eventbus.LimitEvent{
			ResponseRate: profile.ResponseRate,
			OldLimit:     cur,
			NewLimit:     next,
		}})
	}
	return next, true
}
