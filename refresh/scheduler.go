package refresh

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLeadTime is how long before token expiry a refresh fires.
const DefaultLeadTime = 5 * time.Minute

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Scheduler owns a single refresh timer slot. Schedule atomically replaces
// whatever was armed before, so at most one timer is ever live and only the
// most recently scheduled refresh can fire.
type Scheduler struct {
	fire     func()
	leadTime time.Duration
	nowTime  func() time.Time
	log      zerolog.Logger

	lock       sync.Mutex
	timer      *time.Timer
	generation uint64
}

// Option defines a function type to modify the Scheduler instance.
type Option func(*Scheduler)

// WithLeadTime overrides how long before expiry the timer fires.
func WithLeadTime(leadTime time.Duration) Option {
	return func(s *Scheduler) {
		s.leadTime = leadTime
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(s *Scheduler) {
		s.nowTime = nowFunc
	}
}

// WithLogger sets the scheduler logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.log = log
	}
}

// NewScheduler creates a scheduler that invokes fire when a scheduled
// refresh comes due.
func NewScheduler(fire func(), options ...Option) *Scheduler {
	s := &Scheduler{
		fire:     fire,
		leadTime: DefaultLeadTime,
		nowTime:  NowTimeFunc,
		log:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Schedule arms the timer to fire at expiresAt minus the lead time. Any
// previously armed timer is canceled first. A deadline already in the past
// fires immediately rather than being dropped.
func (s *Scheduler) Schedule(expiresAt time.Time) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.cancelLocked()
	s.generation++
	generation := s.generation

	delay := expiresAt.Add(-s.leadTime).Sub(s.nowTime())
	if delay < 0 {
		delay = 0
	}

	s.log.Debug().Time("expires_at", expiresAt).Dur("delay", delay).Msg("refresh scheduled")
	s.timer = time.AfterFunc(delay, func() {
		if !s.claim(generation) {
			return
		}
		s.fire()
	})
}

// Cancel clears the armed timer. Safe to call with nothing scheduled.
func (s *Scheduler) Cancel() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cancelLocked()
}

func (s *Scheduler) cancelLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// claim reports whether a firing timer still belongs to the current
// generation; a stale fire that lost the Stop race is discarded here.
func (s *Scheduler) claim(generation uint64) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if generation != s.generation {
		return false
	}
	s.timer = nil
	return true
}
