package signature

import (
	"context"

	"go.uber.org/zap"

	"courier-driver-agent/shipments/models"
	"courier-driver-agent/store"
)

// Uploader posts a proof-of-delivery payload. Satisfied by api.Client.
type Uploader interface {
	UploadSignature(ctx context.Context, id, trackingNumber, signatureDataURI string) error
}

// Outbox persists uploads that failed after the status transition already
// committed. Satisfied by store.Store.
type Outbox interface {
	EnqueueSignature(p *store.PendingSignature) error
	ResolveSignature(shipmentID string) error
}

// Flow finalizes a delivery: it uploads the captured signature for a
// shipment the backend already marked Delivered. Status and proof are two
// separate commits; a failure here never rolls the status back, it parks the
// payload in the outbox for retry instead.
type Flow struct {
	uploader Uploader
	outbox   Outbox
	logger   *zap.Logger
}

func NewFlow(uploader Uploader, outbox Outbox, logger *zap.Logger) *Flow {
	return &Flow{uploader: uploader, outbox: outbox, logger: logger}
}

// Finalize uploads the captured PNG. The returned error, when non-nil, is
// the client's UploadError: the caller must tell the operator that delivery
// succeeded but the proof upload did not.
func (f *Flow) Finalize(ctx context.Context, shipment models.Shipment, png []byte) error {
	payload := EncodePNG(png)

	if err := f.uploader.UploadSignature(ctx, shipment.ID, shipment.TrackingNumber, payload); err != nil {
		if f.outbox != nil {
			enqueueErr := f.outbox.EnqueueSignature(&store.PendingSignature{
				ShipmentID:     shipment.ID,
				TrackingNumber: shipment.TrackingNumber,
				Payload:        payload,
			})
			if enqueueErr != nil {
				f.logger.Error("Failed to queue signature for retry",
					zap.String("tracking_number", shipment.TrackingNumber),
					zap.Error(enqueueErr),
				)
			}
		}
		f.logger.Error("Signature upload failed, shipment remains delivered without proof",
			zap.String("tracking_number", shipment.TrackingNumber),
			zap.Error(err),
		)
		return err
	}

	if f.outbox != nil {
		if err := f.outbox.ResolveSignature(shipment.ID); err != nil {
			f.logger.Error("Failed to clear signature outbox",
				zap.String("tracking_number", shipment.TrackingNumber),
				zap.Error(err),
			)
		}
	}

	f.logger.Info("Proof of delivery uploaded",
		zap.String("tracking_number", shipment.TrackingNumber),
	)
	return nil
}
