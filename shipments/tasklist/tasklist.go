package tasklist

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"courier-driver-agent/shipments/api"
	"courier-driver-agent/shipments/models"
)

// Fetcher pulls the assigned task collection. Satisfied by api.Client.
type Fetcher interface {
	ListAssignedTasks(ctx context.Context) ([]models.Shipment, string, error)
}

// Snapshots is the optional local persistence hooked into each refresh.
// Satisfied by store.Store.
type Snapshots interface {
	SaveSnapshot(tasks []models.Shipment) error
	PendingShipmentIDs() (map[string]bool, error)
}

type DateFilter string

const (
	DateAll       DateFilter = "All"
	DateToday     DateFilter = "Today"
	DatePast7Days DateFilter = "Past 7 Days"
)

// Filter is the three independent predicates applied to the task view.
type Filter struct {
	Status string
	Query  string
	Date   DateFilter
}

// Task is a shipment as shown in the list. NeedsSignature flags the
// reconciliation case: the backend says Delivered but a proof upload is
// still pending locally, so the signature step must be re-offered.
type Task struct {
	models.Shipment
	NeedsSignature bool
}

const (
	maxQuickRetries    = 2
	deferredRetryDelay = 3 * time.Second
)

// quickRetryDelays mirrors the refresh behavior the app always had: two fast
// retries with increasing delay before giving up on this attempt.
var quickRetryDelays = []time.Duration{300 * time.Millisecond, 500 * time.Millisecond}

// List maintains the driver's current shipment collection and a derived,
// filtered view. It is the single owner of that collection; everything else
// reads through it.
type List struct {
	fetcher    Fetcher
	snapshots  Snapshots
	logger     *zap.Logger
	onDriverID func(driverID string)

	mu            sync.Mutex
	tasks         []Task
	driverID      string
	initialized   bool
	connecting    bool
	closed        bool
	lastErr       error
	retryTimer    *time.Timer
	deferredDelay time.Duration
}

// NewList builds a task list. snapshots may be nil; onDriverID, when set, is
// invoked each time a refresh resolves a driver identity and is how the
// location session learns who to broadcast for.
func NewList(fetcher Fetcher, snapshots Snapshots, logger *zap.Logger, onDriverID func(string)) *List {
	return &List{
		fetcher:       fetcher,
		snapshots:     snapshots,
		logger:        logger,
		onDriverID:    onDriverID,
		deferredDelay: deferredRetryDelay,
	}
}

// Refresh re-fetches the task collection. Failures are retried a bounded
// number of times with short delays; a network-class failure leaves the list
// in a "connecting" state rather than a hard error and, while no collection
// has loaded yet, additionally schedules a deferred retry.
func (l *List) Refresh(ctx context.Context) error {
	var (
		tasks    []models.Shipment
		driverID string
		err      error
	)

	for attempt := 0; ; attempt++ {
		tasks, driverID, err = l.fetcher.ListAssignedTasks(ctx)
		if err == nil || attempt >= maxQuickRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(quickRetryDelays[attempt]):
		}
	}

	if err != nil {
		l.recordFailure(err)
		return err
	}

	l.apply(tasks, driverID)
	return nil
}

func (l *List) recordFailure(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}

	l.lastErr = err
	if !api.IsNetwork(err) {
		l.connecting = false
		return
	}

	// Transient failure: report "connecting". Until the first collection has
	// loaded, keep trying on a longer delay; after that the next view-focus
	// refresh is the retry path.
	l.connecting = true
	if l.initialized {
		return
	}
	if l.retryTimer != nil {
		l.retryTimer.Stop()
	}
	l.retryTimer = time.AfterFunc(l.deferredDelay, func() {
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			return
		}
		if refreshErr := l.Refresh(context.Background()); refreshErr != nil {
			l.logger.Warn("Deferred task refresh failed", zap.Error(refreshErr))
		}
	})
}

func (l *List) apply(tasks []models.Shipment, driverID string) {
	var pending map[string]bool
	if l.snapshots != nil {
		var err error
		pending, err = l.snapshots.PendingShipmentIDs()
		if err != nil {
			l.logger.Error("Failed to load pending signatures", zap.Error(err))
		}
		if err := l.snapshots.SaveSnapshot(tasks); err != nil {
			l.logger.Error("Failed to persist task snapshot", zap.Error(err))
		}
	}

	l.mu.Lock()
	if l.closed {
		// A refresh that resolved after Close is discarded, never applied.
		l.mu.Unlock()
		return
	}

	l.tasks = make([]Task, 0, len(tasks))
	for _, shipment := range tasks {
		l.tasks = append(l.tasks, Task{
			Shipment:       shipment,
			NeedsSignature: shipment.Status.Terminal() && pending[shipment.ID],
		})
	}
	if driverID != "" {
		l.driverID = driverID
	}
	l.initialized = true
	l.connecting = false
	l.lastErr = nil
	resolved := l.driverID
	notify := l.onDriverID
	l.mu.Unlock()

	if notify != nil && resolved != "" {
		notify(resolved)
	}
}

// Visible applies the filter and returns the view: every non-delivered task
// before every delivered one, original order kept within each partition.
func (l *List) Visible(f Filter) []Task {
	l.mu.Lock()
	tasks := make([]Task, len(l.tasks))
	copy(tasks, l.tasks)
	l.mu.Unlock()

	now := time.Now()
	active := make([]Task, 0, len(tasks))
	var delivered []Task
	for _, task := range tasks {
		if !matches(task, f, now) {
			continue
		}
		if task.Status.Terminal() {
			delivered = append(delivered, task)
		} else {
			active = append(active, task)
		}
	}
	return append(active, delivered...)
}

func matches(task Task, f Filter, now time.Time) bool {
	if !task.Status.Matches(f.Status) {
		return false
	}

	if f.Query != "" {
		q := strings.ToLower(f.Query)
		if !strings.Contains(strings.ToLower(task.TrackingNumber), q) &&
			!strings.Contains(strings.ToLower(task.Destination), q) &&
			!strings.Contains(strings.ToLower(task.ReceiverName), q) {
			return false
		}
	}

	return matchesDate(task.RelevantTime(), f.Date, now)
}

func matchesDate(t time.Time, filter DateFilter, now time.Time) bool {
	switch filter {
	case DateToday:
		y1, m1, d1 := t.Date()
		y2, m2, d2 := now.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	case DatePast7Days:
		return !t.Before(now.AddDate(0, 0, -7)) && !t.After(now)
	default:
		return true
	}
}

// Tasks returns the unfiltered collection.
func (l *List) Tasks() []Task {
	l.mu.Lock()
	defer l.mu.Unlock()
	tasks := make([]Task, len(l.tasks))
	copy(tasks, l.tasks)
	return tasks
}

// ActiveTrackingNumber reports the tracking number of a shipment currently
// In Transit, if any. The location session attaches it to each broadcast.
func (l *List) ActiveTrackingNumber() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, task := range l.tasks {
		if task.Status == models.StatusInTransit {
			return task.TrackingNumber, true
		}
	}
	return "", false
}

func (l *List) DriverID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.driverID
}

// Connecting reports whether the last refresh hit a transient failure and a
// deferred retry is pending.
func (l *List) Connecting() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connecting
}

func (l *List) LastError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Close marks the list defunct: pending deferred retries are cancelled and
// any refresh still in flight will have its result discarded.
func (l *List) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.retryTimer != nil {
		l.retryTimer.Stop()
		l.retryTimer = nil
	}
}
