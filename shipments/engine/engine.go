package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"courier-driver-agent/shipments/models"
)

// ErrScanInProgress is returned when a scan arrives while a previous one is
// still being persisted. The second event is dropped, not queued.
var ErrScanInProgress = errors.New("a scan is already being processed")

// ScanMismatchError means the scanned code does not belong to the shipment.
// Recoverable in place: the operator retries the scan without leaving the
// screen.
type ScanMismatchError struct {
	Expected string
	Scanned  string
}

func (e *ScanMismatchError) Error() string {
	return fmt.Sprintf("incorrect package scanned: expected %s, but scanned %s", e.Expected, e.Scanned)
}

// StatusUpdater persists a proposed status transition. Satisfied by
// api.Client.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, id string, next models.Status) (models.Shipment, error)
}

// Result is the outcome of a valid scan.
type Result struct {
	// Shipment is the post-transition shipment as the backend returned it.
	// Unchanged when AlreadyDelivered is set.
	Shipment models.Shipment

	// AlreadyDelivered marks the informational no-op outcome: the shipment
	// was terminal before the scan, nothing was sent to the backend.
	AlreadyDelivered bool

	// SignatureRequired is set when the transition landed on Delivered: the
	// task is not complete until proof of delivery is uploaded.
	SignatureRequired bool
}

// Engine validates scan events against a shipment and advances its status.
// The engine never owns shipment state; it only proposes transitions and
// hands back what the backend persisted.
type Engine struct {
	updater StatusUpdater
	logger  *zap.Logger

	mu   sync.Mutex
	busy bool
}

func NewEngine(updater StatusUpdater, logger *zap.Logger) *Engine {
	return &Engine{updater: updater, logger: logger}
}

// Scan processes one scanned code against a shipment.
//
// The transition is valid iff the code equals the shipment's tracking number
// exactly, case-sensitive, no normalization. On mismatch nothing is mutated
// and the error names both values. A shipment already Delivered yields an
// informational result with zero network calls. Only one scan may be in
// flight at a time; concurrent calls get ErrScanInProgress.
func (e *Engine) Scan(ctx context.Context, shipment models.Shipment, code string) (Result, error) {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return Result{}, ErrScanInProgress
	}
	e.busy = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.busy = false
		e.mu.Unlock()
	}()

	if code != shipment.TrackingNumber {
		return Result{}, &ScanMismatchError{Expected: shipment.TrackingNumber, Scanned: code}
	}

	if shipment.Status.Terminal() {
		e.logger.Info("Shipment already delivered, nothing to do",
			zap.String("tracking_number", shipment.TrackingNumber),
		)
		return Result{Shipment: shipment, AlreadyDelivered: true}, nil
	}

	next, ok := shipment.Status.Next()
	if !ok {
		return Result{}, fmt.Errorf("shipment %s has unrecognized status %q", shipment.ID, shipment.Status)
	}

	updated, err := e.updater.UpdateStatus(ctx, shipment.ID, next)
	if err != nil {
		return Result{}, err
	}

	e.logger.Info("Shipment status advanced",
		zap.String("tracking_number", shipment.TrackingNumber),
		zap.String("status", string(next)),
	)

	return Result{
		Shipment:          updated,
		SignatureRequired: next == models.StatusDelivered,
	}, nil
}
