package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"courier-driver-agent/shipments/signature"
	"courier-driver-agent/shipments/tasklist"
	"courier-driver-agent/store"
)

// Worker keeps the task list fresh in the background and drains the
// pending-signature outbox: proof uploads that failed after a Delivered
// transition are retried here until they stick.
type Worker struct {
	logger   *zap.Logger
	list     *tasklist.List
	store    *store.Store
	uploader signature.Uploader
	busy     bool
}

func NewWorker(logger *zap.Logger, list *tasklist.List, st *store.Store, uploader signature.Uploader) *Worker {
	return &Worker{
		logger:   logger,
		list:     list,
		store:    st,
		uploader: uploader,
	}
}

func (w *Worker) Schedule() string {
	return "* * * * *"
}

func (w *Worker) Ready(time.Time) bool {
	return !w.busy
}

func (w *Worker) Execute() {
	w.busy = true
	defer func() {
		w.busy = false
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := w.list.Refresh(ctx); err != nil {
		w.logger.Error("Failed to refresh task list", zap.Error(err))
	}

	w.drainOutbox(ctx)
}

func (w *Worker) drainOutbox(ctx context.Context) {
	pending, err := w.store.PendingSignatures()
	if err != nil {
		w.logger.Error("Failed to load signature outbox", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	for _, p := range pending {
		if err := w.uploader.UploadSignature(ctx, p.ShipmentID, p.TrackingNumber, p.Payload); err != nil {
			if markErr := w.store.MarkAttempt(p.ID); markErr != nil {
				w.logger.Error("Failed to record upload attempt", zap.Error(markErr))
			}
			w.logger.Warn("Signature retry failed",
				zap.String("tracking_number", p.TrackingNumber),
				zap.Int("attempts", p.Attempts+1),
				zap.Error(err),
			)
			continue
		}

		if err := w.store.ResolveSignature(p.ShipmentID); err != nil {
			w.logger.Error("Failed to clear signature outbox", zap.Error(err))
			continue
		}
		w.logger.Info("Queued signature uploaded",
			zap.String("tracking_number", p.TrackingNumber),
		)
	}
}
