package checkout

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/cart"
	"github.com/Gusmack1/Charlesmackaybooks-sub002/internal/pricing"
)

const (
	defaultSessionTTL    = 2 * time.Hour
	defaultSweepInterval = time.Minute
)

// Session — корзина и мастер одного покупателя.
// Составные операции (создание заказа, подтверждение оплаты) выполняются под Lock.
type Session struct {
	ID     string
	Cart   *cart.Store
	Wizard *Wizard

	mu       sync.Mutex
	lastSeen time.Time
}

// Lock захватывает сессию для составной операции.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock освобождает сессию.
func (s *Session) Unlock() { s.mu.Unlock() }

type gauge interface {
	Set(float64)
}

// SessionOptions задаёт параметры реестра сессий.
type SessionOptions struct {
	Logger        *log.Entry
	TTL           time.Duration
	SweepInterval time.Duration
	Calculator    *pricing.Calculator
	ActiveGauge   gauge
	Now           func() time.Time
}

// SessionOption настраивает Sessions.
type SessionOption func(*SessionOptions)

// WithSessionLogger задаёт logger.
func WithSessionLogger(logger *log.Entry) SessionOption {
	return func(opts *SessionOptions) { opts.Logger = logger }
}

// WithSessionTTL задаёт время жизни неактивной сессии.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(opts *SessionOptions) { opts.TTL = ttl }
}

// WithSweepInterval задаёт период janitor-цикла.
func WithSweepInterval(interval time.Duration) SessionOption {
	return func(opts *SessionOptions) { opts.SweepInterval = interval }
}

// WithCalculator задаёт калькулятор итогов для новых корзин.
func WithCalculator(calc *pricing.Calculator) SessionOption {
	return func(opts *SessionOptions) { opts.Calculator = calc }
}

// WithActiveGauge задаёт метрику числа активных сессий.
func WithActiveGauge(g gauge) SessionOption {
	return func(opts *SessionOptions) { opts.ActiveGauge = g }
}

// WithSessionClock подменяет часы (для тестов).
func WithSessionClock(now func() time.Time) SessionOption {
	return func(opts *SessionOptions) { opts.Now = now }
}

// Sessions — in-memory реестр сессий с вытеснением по TTL.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session

	logger        *log.Entry
	ttl           time.Duration
	sweepInterval time.Duration
	calc          *pricing.Calculator
	active        gauge
	now           func() time.Time
}

// NewSessions создаёт реестр.
func NewSessions(options ...SessionOption) *Sessions {
	opts := SessionOptions{
		TTL:           defaultSessionTTL,
		SweepInterval: defaultSweepInterval,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "checkout-sessions")
	}
	if opts.TTL <= 0 {
		opts.TTL = defaultSessionTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Calculator == nil {
		opts.Calculator = pricing.DefaultCalculator()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Sessions{
		sessions:      make(map[string]*Session),
		logger:        opts.Logger,
		ttl:           opts.TTL,
		sweepInterval: opts.SweepInterval,
		calc:          opts.Calculator,
		active:        opts.ActiveGauge,
		now:           opts.Now,
	}
}

// Get возвращает живую сессию и продлевает её.
func (r *Sessions) Get(id string) (*Session, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	now := r.now()
	if now.Sub(s.lastSeen) > r.ttl {
		delete(r.sessions, id)
		r.reportLocked()
		return nil, false
	}
	s.lastSeen = now
	return s, true
}

// GetOrCreate возвращает сессию по id либо создаёт новую с новым uuid.
func (r *Sessions) GetOrCreate(id string) (*Session, bool) {
	if s, ok := r.Get(id); ok {
		return s, false
	}

	store := cart.NewStore(r.calc)
	s := &Session{
		ID:     uuid.NewString(),
		Cart:   store,
		Wizard: NewWizard(store),
	}

	r.mu.Lock()
	s.lastSeen = r.now()
	r.sessions[s.ID] = s
	r.reportLocked()
	r.mu.Unlock()

	return s, true
}

// Delete удаляет сессию.
func (r *Sessions) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	r.reportLocked()
}

// Len — число сессий в реестре.
func (r *Sessions) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep удаляет сессии, неактивные дольше TTL, и возвращает их число.
func (r *Sessions) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, s := range r.sessions {
		if now.Sub(s.lastSeen) > r.ttl {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		r.reportLocked()
	}
	return removed
}

// Run запускает janitor до отмены ctx.
func (r *Sessions) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := r.Sweep(); removed > 0 {
				r.logger.WithField("removed", removed).Debug("expired checkout sessions evicted")
			}
		}
	}
}

func (r *Sessions) reportLocked() {
	if r.active != nil {
		r.active.Set(float64(len(r.sessions)))
	}
}
