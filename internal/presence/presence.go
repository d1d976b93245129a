// Package presence polls the online status of a set of users over the
// realtime connection.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/chat-client/pkg/protocol"
)

// DefaultInterval is the polling period.
const DefaultInterval = 30 * time.Second

// Realtime forwards frames to the server.
type Realtime interface {
	Send(payload []byte) error
}

// Status is the last known presence of a user.
type Status struct {
	Online     bool
	TimeOnline time.Duration
	CheckedAt  time.Time
}

// Options configures a Poller.
type Options struct {
	Realtime Realtime
	UserID   func() string
	Interval time.Duration
	Now      func() time.Time

	// OnChange is called when the online flag of a user flips.
	OnChange func(userID string, s Status)

	Logger *zerolog.Logger
}

// Poller sends one is_online query per target on Start and then every
// interval, and records the answers.
type Poller struct {
	rt       Realtime
	userID   func() string
	interval time.Duration
	now      func() time.Time
	onChange func(string, Status)
	log      zerolog.Logger

	mu      sync.Mutex
	targets map[string]struct{}
	status  map[string]Status

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Poller with no targets.
func New(opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.UserID == nil {
		opts.UserID = func() string { return "" }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Poller{
		rt:       opts.Realtime,
		userID:   opts.UserID,
		interval: opts.Interval,
		now:      opts.Now,
		onChange: opts.OnChange,
		log:      logger.With().Str("component", "presence").Logger(),
		targets:  make(map[string]struct{}),
		status:   make(map[string]Status),
	}
}

// Watch adds users to the target set.
func (p *Poller) Watch(userIDs ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range userIDs {
		if id != "" {
			p.targets[id] = struct{}{}
		}
	}
}

// Unwatch removes a user from the target set and forgets its status.
func (p *Poller) Unwatch(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.targets, userID)
	delete(p.status, userID)
}

// Targets returns the watched user ids in sorted order.
func (p *Poller) Targets() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.targets))
	for id := range p.targets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Start polls immediately and then every interval until ctx is done or
// Stop is called. Calling Start on a running Poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.Poll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Poll()
			}
		}
	}()
}

// Stop ends polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

// Poll sends one is_online query per target. Queries that cannot be sent
// are skipped until the next tick.
func (p *Poller) Poll() {
	from := p.userID()
	if from == "" {
		return
	}
	for _, to := range p.Targets() {
		frame, err := protocol.EncodeIsOnline(from, to)
		if err != nil {
			p.log.Error().Err(err).Msg("failed to encode presence query")
			continue
		}
		if err := p.rt.Send(frame); err != nil {
			p.log.Debug().Err(err).Str("user_id", to).Msg("presence query skipped")
		}
	}
}

// Status returns the last answer for userID.
func (p *Poller) Status(userID string) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.status[userID]
	return s, ok
}

// IsOnline reports whether userID was online at the last answer.
func (p *Poller) IsOnline(userID string) bool {
	s, _ := p.Status(userID)
	return s.Online
}

// Handle records a presence answer. Other events are ignored.
func (p *Poller) Handle(ev protocol.Event) {
	resp, ok := ev.(protocol.PresenceResponse)
	if !ok {
		return
	}
	s := Status{Online: resp.IsOnline, TimeOnline: resp.TimeOnline, CheckedAt: p.now()}

	p.mu.Lock()
	prev, known := p.status[resp.UserID]
	p.status[resp.UserID] = s
	p.mu.Unlock()

	if p.onChange != nil && (!known || prev.Online != s.Online) {
		p.onChange(resp.UserID, s)
	}
}

// HandleFrame decodes and handles a raw frame. It is meant to be registered
// as a realtime listener.
func (p *Poller) HandleFrame(frame []byte) {
	ev, err := protocol.DecodeEvent(frame)
	if err != nil {
		return
	}
	p.Handle(ev)
}
