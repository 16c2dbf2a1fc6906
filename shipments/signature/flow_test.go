package signature

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"courier-driver-agent/shipments/models"
	"courier-driver-agent/store"
)

type fakeUploader struct {
	err      error
	payloads []string
}

func (f *fakeUploader) UploadSignature(ctx context.Context, id, trackingNumber, dataURI string) error {
	f.payloads = append(f.payloads, dataURI)
	return f.err
}

type fakeOutbox struct {
	enqueued []*store.PendingSignature
	resolved []string
}

func (f *fakeOutbox) EnqueueSignature(p *store.PendingSignature) error {
	f.enqueued = append(f.enqueued, p)
	return nil
}

func (f *fakeOutbox) ResolveSignature(shipmentID string) error {
	f.resolved = append(f.resolved, shipmentID)
	return nil
}

func TestFinalizeUploadsEncodedSignature(t *testing.T) {
	uploader := &fakeUploader{}
	outbox := &fakeOutbox{}
	flow := NewFlow(uploader, outbox, zap.NewNop())
	shipment := models.Shipment{ID: "s1", TrackingNumber: "FP1002", Status: models.StatusDelivered}

	if err := flow.Finalize(context.Background(), shipment, []byte("png-bytes")); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if len(uploader.payloads) != 1 || uploader.payloads[0] != EncodePNG([]byte("png-bytes")) {
		t.Errorf("unexpected payloads: %v", uploader.payloads)
	}
	if len(outbox.resolved) != 1 || outbox.resolved[0] != "s1" {
		t.Errorf("successful upload should clear the outbox, got %v", outbox.resolved)
	}
	if len(outbox.enqueued) != 0 {
		t.Errorf("nothing should be queued on success")
	}
}

func TestFinalizeFailureQueuesAndSurfaces(t *testing.T) {
	uploadErr := errors.New("backend unavailable")
	uploader := &fakeUploader{err: uploadErr}
	outbox := &fakeOutbox{}
	flow := NewFlow(uploader, outbox, zap.NewNop())
	shipment := models.Shipment{ID: "s1", TrackingNumber: "FP1002", Status: models.StatusDelivered}

	err := flow.Finalize(context.Background(), shipment, []byte("png-bytes"))
	if !errors.Is(err, uploadErr) {
		t.Fatalf("upload failure must surface, got %v", err)
	}
	if len(outbox.enqueued) != 1 {
		t.Fatalf("failed upload must be queued for retry, got %d rows", len(outbox.enqueued))
	}
	queued := outbox.enqueued[0]
	if queued.ShipmentID != "s1" || queued.TrackingNumber != "FP1002" {
		t.Errorf("queued row mismatch: %+v", queued)
	}
	if queued.Payload != EncodePNG([]byte("png-bytes")) {
		t.Errorf("queued payload must be the encoded data URI")
	}
}
