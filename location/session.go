package location

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"courier-driver-agent/shipments/api"
)

// State tags the lifecycle of a broadcast session. A tagged state rather
// than a bare boolean so a re-triggered start can tell "already starting"
// from "already active" from "torn down".
type State int

const (
	// StateIdle: no driver identity resolved; no permission requested, no
	// channel open.
	StateIdle State = iota
	// StateStarting: identity just became available; connection, room join
	// and permission request are in flight.
	StateStarting
	// StateActive: the realtime connection is open. A position subscription
	// is live unless permission was denied, in which case the connection
	// stays open without one.
	StateActive
	// StateStopped: identity cleared or owner torn down; all resources
	// released. A later Start begins a fresh cycle.
	StateStopped
)

// Position is one device fix.
type Position struct {
	Latitude  float64
	Longitude float64
}

// Subscription is a live position watch; Cancel releases it.
type Subscription interface {
	Cancel()
}

// PositionSource abstracts the positioning hardware. RequestPermission is a
// one-shot request per session start; a denial is not retried. Watch
// delivers fixes at a bounded cadence: at least every interval, or every
// displacement meters, whichever triggers first.
type PositionSource interface {
	RequestPermission(ctx context.Context) (bool, error)
	Watch(interval time.Duration, displacement float64, fn func(Position)) (Subscription, error)
}

// Conn is one realtime channel to the backend.
type Conn interface {
	Emit(event string, payload any) error
	Close() error
}

// Dialer opens realtime connections; the production implementation wraps a
// websocket client, tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// ActiveLookup reports the tracking number of the shipment currently In
// Transit, if any, so the backend can correlate movement with a delivery.
type ActiveLookup func() (trackingNumber string, ok bool)

// Options configures a Session.
type Options struct {
	RealtimeURL    string
	ConnectTimeout time.Duration
	// ReportInterval and MinDisplacement bound broadcast cadence to keep
	// battery and network volume in check.
	ReportInterval  time.Duration
	MinDisplacement float64
}

const (
	defaultReportInterval  = 10 * time.Second
	defaultMinDisplacement = 10 // meters
	defaultConnectTimeout  = 10 * time.Second
)

// Session streams device position to the backend while, and only while, a
// driver identity is known. At most one session per process may be Starting
// or Active at a time; Start is a no-op while one is.
type Session struct {
	opts   Options
	dialer Dialer
	source PositionSource
	active ActiveLookup
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	driverID string
	conn     Conn
	sub      Subscription
}

func NewSession(opts Options, dialer Dialer, source PositionSource, active ActiveLookup, logger *zap.Logger) *Session {
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = defaultReportInterval
	}
	if opts.MinDisplacement <= 0 {
		opts.MinDisplacement = defaultMinDisplacement
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	return &Session{
		opts:   opts,
		dialer: dialer,
		source: source,
		active: active,
		logger: logger,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start opens the session for a resolved driver identity: connect, announce
// presence in the driver-scoped room, request permission, subscribe to
// position updates. Calling Start while a session is already Starting or
// Active is a no-op, not a second connection; identity resolution re-runs
// must not produce duplicate streams.
//
// Connect and permission both run under the configured timeout; expiry tears
// everything down and is reported as a network error, retry left to the
// caller.
func (s *Session) Start(ctx context.Context, driverID string) error {
	s.mu.Lock()
	if s.state == StateStarting || s.state == StateActive {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting
	s.driverID = driverID
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	defer cancel()

	conn, err := s.dialer.Dial(ctx, s.opts.RealtimeURL)
	if err != nil {
		s.reset()
		return &api.NetworkError{Err: err}
	}

	s.mu.Lock()
	if s.state != StateStarting {
		// Stopped while dialing: release the late connection.
		s.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	s.conn = conn
	s.mu.Unlock()

	if err := conn.Emit("joinDriverRoom", driverID); err != nil {
		s.Stop()
		return &api.NetworkError{Err: err}
	}

	granted, err := s.source.RequestPermission(ctx)
	if err != nil {
		s.Stop()
		return &api.NetworkError{Err: err}
	}
	if !granted {
		// One-shot request: no subscription this session, but the realtime
		// connection stays open.
		s.logger.Warn("Location permission denied, broadcasting disabled",
			zap.String("driver_id", driverID),
		)
		s.mu.Lock()
		if s.state == StateStarting {
			s.state = StateActive
		}
		s.mu.Unlock()
		return nil
	}

	sub, err := s.source.Watch(s.opts.ReportInterval, s.opts.MinDisplacement, s.report)
	if err != nil {
		s.Stop()
		return err
	}

	s.mu.Lock()
	if s.state != StateStarting {
		// Stopped while subscribing.
		s.mu.Unlock()
		sub.Cancel()
		return nil
	}
	s.sub = sub
	s.state = StateActive
	s.mu.Unlock()

	s.logger.Info("Location broadcast active", zap.String("driver_id", driverID))
	return nil
}

// report pushes one position sample over the channel, tagged with the active
// delivery when there is one. A driver with no active delivery still
// broadcasts bare location.
func (s *Session) report(p Position) {
	s.mu.Lock()
	conn := s.conn
	driverID := s.driverID
	live := s.state == StateActive || s.state == StateStarting
	s.mu.Unlock()

	if conn == nil || !live {
		return
	}

	var trackingNumber *string
	if s.active != nil {
		if tn, ok := s.active(); ok {
			trackingNumber = &tn
		}
	}

	update := struct {
		DriverID       string  `json:"driverId"`
		Latitude       float64 `json:"latitude"`
		Longitude      float64 `json:"longitude"`
		TrackingNumber *string `json:"trackingNumber"`
	}{driverID, p.Latitude, p.Longitude, trackingNumber}

	if err := conn.Emit("driverLocationUpdate", update); err != nil {
		s.logger.Warn("Failed to send location update", zap.Error(err))
	}
}

// Stop tears the session down: the position subscription is cancelled and
// the connection closed on every path, including mid-Starting. Idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	sub := s.sub
	conn := s.conn
	s.sub = nil
	s.conn = nil
	stopped := s.state != StateIdle
	s.state = StateStopped
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if stopped {
		s.logger.Info("Location broadcast stopped")
	}
}

// reset returns a failed start to Idle so the caller can retry.
func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStarting {
		s.state = StateIdle
	}
}
