// Package locator runs the background location reporting loop: while an
// alarm is active it samples the device position at a fixed cadence and
// forwards each sample through the session, tagged with the active report id.
package locator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pollub/guardlink/internal/customer"
	"github.com/pollub/guardlink/internal/log"
	"github.com/pollub/guardlink/internal/metrics"
	"github.com/pollub/guardlink/internal/session"
	"github.com/pollub/guardlink/internal/token"
)

// Sample is one position fix from the platform location provider. It is
// consumed immediately and never persisted.
type Sample struct {
	Latitude  float64
	Longitude float64
}

// Provider abstracts the platform location source.
type Provider interface {
	// Current returns one immediate fix.
	Current(ctx context.Context) (Sample, error)
	// Watch streams fixes at the given cadence until ctx is cancelled.
	Watch(ctx context.Context, interval time.Duration) (<-chan Sample, error)
}

// Session is the slice of the session manager the loop depends on.
type Session interface {
	Connect(ctx context.Context, endpoint string) error
	Send(message []byte) error
	Connecting() bool
	LastReportID() int
	SetCloseCode(code int)
	Disconnect()
}

// Gatekeeper is the credential surface the loop consults on check ticks.
type Gatekeeper interface {
	IsRefreshExpired(ctx context.Context) bool
	RefreshIfNeeded(ctx context.Context) (*token.Pair, error)
}

// ProfileSource yields the logged-in customer, whose id tags every sample.
type ProfileSource interface {
	Profile(ctx context.Context) (customer.Info, error)
}

type startupMessage struct {
	CallReport bool    `json:"callReport"`
	UserID     int     `json:"userId"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

type reconnectMessage struct {
	ReconnectMessage bool    `json:"reconnectMessage"`
	UserID           int     `json:"userId"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
}

type reportMessage struct {
	ReportID  int     `json:"reportId"`
	UserID    int     `json:"userId"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type cancelMessage struct {
	ReportID int    `json:"reportId"`
	Status   string `json:"status"`
}

// Loop is the location reporting loop. Per-sample send failures are logged
// and swallowed; only authentication failure stops the loop.
type Loop struct {
	session  Session
	gate     Gatekeeper
	provider Provider
	profiles ProfileSource

	endpoint   string
	interval   time.Duration
	checkEvery int

	mu             sync.Mutex
	cancel         context.CancelFunc
	done           chan struct{}
	onUnauthorized func()

	logger zerolog.Logger
}

// New creates a location reporting loop. checkEvery is the number of ticks
// between credential checks (token-refresh threshold divided by the sample
// interval).
func New(sess Session, gate Gatekeeper, provider Provider, profiles ProfileSource,
	endpoint string, interval time.Duration, checkEvery int) *Loop {
	if checkEvery < 1 {
		checkEvery = 1
	}
	return &Loop{
		session:    sess,
		gate:       gate,
		provider:   provider,
		profiles:   profiles,
		endpoint:   endpoint,
		interval:   interval,
		checkEvery: checkEvery,
		logger:     log.WithComponent("locator"),
	}
}

// OnUnauthorized registers the handler fired when the loop stops because the
// refresh token expired (forced logout). Replaces any previous handler.
func (l *Loop) OnUnauthorized(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onUnauthorized = fn
}

// Running reports whether the loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Start connects the session, sends the immediate startup sample and begins
// periodic reporting. Starting a running loop is a no-op.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.cancel != nil {
		l.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	done := make(chan struct{})
	l.done = done
	l.mu.Unlock()

	info, err := l.profiles.Profile(ctx)
	if err != nil {
		l.abort()
		return err
	}

	if err := l.session.Connect(ctx, l.endpoint); err != nil {
		// The session schedules its own reconnect; the loop keeps running
		// and emits reconnect-variant samples meanwhile.
		l.logger.Warn().Err(err).Str("event", "locator.connect_failed").Msg("initial connect failed")
	}

	l.sendStartup(ctx, info.ID)

	go l.run(runCtx, done, info.ID)
	l.logger.Info().Str("event", "locator.started").Int("user_id", info.ID).
		Dur("interval", l.interval).Msg("location reporting started")
	return nil
}

// Stop sends the best-effort cancellation notice, detaches from the location
// provider and closes the session with the cancel close code. Stopping a
// stopped loop is a no-op.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	done := l.done
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}

	l.sendCancelNotice()
	cancel()
	if done != nil {
		<-done
	}
	l.session.SetCloseCode(session.CloseCancel)
	l.session.Disconnect()
	l.logger.Info().Str("event", "locator.stopped").Msg("location reporting stopped")
}

func (l *Loop) abort() {
	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.cancel = nil
	l.done = nil
	l.mu.Unlock()
}

// sendStartup pushes one immediate sample so responders get a position
// before the first periodic tick.
func (l *Loop) sendStartup(ctx context.Context, userID int) {
	sample, err := l.provider.Current(ctx)
	if err != nil {
		l.logger.Warn().Err(err).Str("event", "locator.startup_sample_failed").Msg("no startup fix")
		return
	}
	raw, _ := json.Marshal(startupMessage{
		CallReport: true,
		UserID:     userID,
		Latitude:   sample.Latitude,
		Longitude:  sample.Longitude,
	})
	if err := l.session.Send(raw); err != nil {
		l.logger.Warn().Err(err).Str("event", "locator.startup_send_failed").Msg("startup sample dropped")
		return
	}
	metrics.IncLocationSample("startup")
}

func (l *Loop) sendCancelNotice() {
	raw, _ := json.Marshal(cancelMessage{
		ReportID: l.session.LastReportID(),
		Status:   "cancel",
	})
	if err := l.session.Send(raw); err != nil {
		l.logger.Debug().Err(err).Str("event", "locator.cancel_notice_dropped").Msg("cancel notice dropped")
		return
	}
	metrics.IncLocationSample("cancel")
}

func (l *Loop) run(ctx context.Context, done chan struct{}, userID int) {
	defer close(done)

	samples, err := l.provider.Watch(ctx, l.interval)
	if err != nil {
		l.logger.Error().Err(err).Str("event", "locator.watch_failed").Msg("location provider unavailable")
		return
	}

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			return
		case sample, ok := <-samples:
			if !ok {
				return
			}
			ticks++
			if ticks >= l.checkEvery {
				ticks = 0
				if l.checkCredentials(ctx) {
					return
				}
				continue
			}
			l.forward(userID, sample)
		}
	}
}

// checkCredentials runs the periodic refresh check. It returns true when the
// loop must terminate (refresh token expired, forced logout).
func (l *Loop) checkCredentials(ctx context.Context) bool {
	if l.gate.IsRefreshExpired(ctx) {
		l.logger.Warn().Str("event", "locator.unauthorized").Msg("refresh token expired, stopping")
		l.session.Disconnect()
		l.mu.Lock()
		if l.cancel != nil {
			l.cancel()
		}
		l.cancel = nil
		l.done = nil
		onUnauthorized := l.onUnauthorized
		l.mu.Unlock()
		if onUnauthorized != nil {
			onUnauthorized()
		}
		return true
	}
	if _, err := l.gate.RefreshIfNeeded(ctx); err != nil {
		// Transient refresh failure; the loop keeps running and the next
		// check tick retries.
		l.logger.Warn().Err(err).Str("event", "locator.refresh_failed").Msg("credential refresh failed")
	}
	return false
}

// forward sends one sample. While a reconnect is pending the reconnect
// variant signals "resume my report" instead of a normal ping.
func (l *Loop) forward(userID int, sample Sample) {
	if l.session.Connecting() {
		raw, _ := json.Marshal(reconnectMessage{
			ReconnectMessage: true,
			UserID:           userID,
			Latitude:         sample.Latitude,
			Longitude:        sample.Longitude,
		})
		if err := l.session.Send(raw); err != nil {
			l.logger.Debug().Err(err).Str("event", "locator.sample_dropped").Msg("reconnect sample dropped")
			return
		}
		metrics.IncLocationSample("reconnect")
		return
	}

	reportID := l.session.LastReportID()
	if reportID == -1 {
		return
	}
	raw, _ := json.Marshal(reportMessage{
		ReportID:  reportID,
		UserID:    userID,
		Latitude:  sample.Latitude,
		Longitude: sample.Longitude,
	})
	if err := l.session.Send(raw); err != nil {
		l.logger.Debug().Err(err).Str("event", "locator.sample_dropped").Msg("location sample dropped")
		return
	}
	metrics.IncLocationSample("report")
}
