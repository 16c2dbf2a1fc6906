package location

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// earthRadiusMeters for the displacement calculation.
const earthRadiusMeters = 6371000

// distanceMeters is the haversine great-circle distance between two fixes.
func distanceMeters(a, b Position) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// ReadFix returns the device's current position.
type ReadFix func() (Position, error)

// PolledSource adapts any fix reader into a PositionSource. It samples
// frequently and delivers a fix when either the report interval has elapsed
// since the last delivery or the device has moved at least the displacement
// threshold, whichever triggers first.
type PolledSource struct {
	read        ReadFix
	sampleEvery time.Duration
	logger      *zap.Logger
}

func NewPolledSource(read ReadFix, sampleEvery time.Duration, logger *zap.Logger) *PolledSource {
	if sampleEvery <= 0 {
		sampleEvery = time.Second
	}
	return &PolledSource{read: read, sampleEvery: sampleEvery, logger: logger}
}

// RequestPermission waits for the reader to produce its first fix. A cold
// reader needs time to acquire one (the daemon connection delivers reports
// asynchronously), so the probe keeps sampling until a fix arrives; a reader
// that cannot produce one within the context budget is the terminal-hardware
// equivalent of a denied permission.
func (s *PolledSource) RequestPermission(ctx context.Context) (bool, error) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(s.sampleEvery)
		defer ticker.Stop()
		for {
			if _, err := s.read(); err == nil {
				close(done)
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	select {
	case <-ctx.Done():
		return false, nil
	case <-done:
		return true, nil
	}
}

type polledSubscription struct {
	cancel chan struct{}
	once   sync.Once
}

func (s *polledSubscription) Cancel() {
	s.once.Do(func() { close(s.cancel) })
}

func (s *PolledSource) Watch(interval time.Duration, displacement float64, fn func(Position)) (Subscription, error) {
	sub := &polledSubscription{cancel: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(s.sampleEvery)
		defer ticker.Stop()

		var last Position
		var lastAt time.Time
		delivered := false

		for {
			select {
			case <-sub.cancel:
				return
			case <-ticker.C:
			}

			fix, err := s.read()
			if err != nil {
				s.logger.Warn("Failed to read position fix", zap.Error(err))
				continue
			}

			due := !delivered ||
				time.Since(lastAt) >= interval ||
				distanceMeters(last, fix) >= displacement
			if !due {
				continue
			}

			last = fix
			lastAt = time.Now()
			delivered = true
			fn(fix)
		}
	}()

	return sub, nil
}

// GpsdSource reads fixes from a gpsd daemon's JSON channel, the usual
// positioning interface on a vehicle-mounted terminal.
type GpsdSource struct {
	address string
	logger  *zap.Logger

	mu   sync.Mutex
	last Position
	has  bool
	conn net.Conn
}

func NewGpsdSource(address string, logger *zap.Logger) *GpsdSource {
	return &GpsdSource{address: address, logger: logger}
}

// Reader returns a ReadFix backed by the daemon, for wiring into a
// PolledSource.
func (g *GpsdSource) Reader() ReadFix {
	return g.read
}

func (g *GpsdSource) read() (Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn == nil {
		if err := g.connectLocked(); err != nil {
			return Position{}, err
		}
	}
	if g.has {
		return g.last, nil
	}
	return Position{}, errNoFix
}

var errNoFix = errors.New("no position fix yet")

func (g *GpsdSource) connectLocked() error {
	conn, err := net.DialTimeout("tcp", g.address, 5*time.Second)
	if err != nil {
		return err
	}
	if _, err := conn.Write([]byte(`?WATCH={"enable":true,"json":true}` + "\n")); err != nil {
		_ = conn.Close()
		return err
	}
	g.conn = conn
	go g.consume(conn)
	return nil
}

// consume reads the daemon's report stream, keeping the latest TPV fix.
func (g *GpsdSource) consume(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var report struct {
			Class string  `json:"class"`
			Mode  int     `json:"mode"`
			Lat   float64 `json:"lat"`
			Lon   float64 `json:"lon"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &report); err != nil {
			continue
		}
		if report.Class != "TPV" || report.Mode < 2 {
			continue
		}
		g.mu.Lock()
		g.last = Position{Latitude: report.Lat, Longitude: report.Lon}
		g.has = true
		g.mu.Unlock()
	}

	g.mu.Lock()
	if g.conn == conn {
		g.conn = nil
		g.has = false
	}
	g.mu.Unlock()
	_ = conn.Close()
	g.logger.Warn("Lost connection to position daemon")
}

// Close releases the daemon connection.
func (g *GpsdSource) Close() {
	g.mu.Lock()
	conn := g.conn
	g.conn = nil
	g.has = false
	g.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
