package store

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"courier-driver-agent/shipments/models"
)

// PendingSignature is an outbox row for a signature upload that failed after
// the Delivered status had already committed server-side. Rows live until
// the upload finally succeeds, so a restart can re-offer the signature step.
type PendingSignature struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	ShipmentID     string `gorm:"size:64;not null;uniqueIndex"`
	TrackingNumber string `gorm:"size:100;not null"`
	Payload        string `gorm:"not null"`
	Attempts       int    `gorm:"not null;default:0"`
	CreatedAt      time.Time
}

// Store is the agent's local database: a read-through snapshot of the task
// collection plus the pending-signature outbox. The backend stays the owner
// of every shipment record; the snapshot is never authoritative.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the on-device database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&models.Shipment{}, &PendingSignature{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SaveSnapshot replaces the local task snapshot with the given collection.
func (s *Store) SaveSnapshot(tasks []models.Shipment) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Shipment{}).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}
		return tx.Create(&tasks).Error
	})
}

// Snapshot returns the last persisted task collection.
func (s *Store) Snapshot() ([]models.Shipment, error) {
	var tasks []models.Shipment
	err := s.db.Find(&tasks).Error
	return tasks, err
}

// EnqueueSignature records a failed proof-of-delivery upload. One row per
// shipment; a repeat failure refreshes the payload.
func (s *Store) EnqueueSignature(p *PendingSignature) error {
	var existing PendingSignature
	err := s.db.Where("shipment_id = ?", p.ShipmentID).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return s.db.Create(p).Error
	}
	if err != nil {
		return err
	}
	existing.TrackingNumber = p.TrackingNumber
	existing.Payload = p.Payload
	return s.db.Save(&existing).Error
}

func (s *Store) PendingSignatures() ([]PendingSignature, error) {
	var pending []PendingSignature
	err := s.db.Order("created_at").Find(&pending).Error
	return pending, err
}

// PendingShipmentIDs returns the ids of shipments awaiting a proof upload,
// for flagging Delivered-without-proof tasks on list load.
func (s *Store) PendingShipmentIDs() (map[string]bool, error) {
	pending, err := s.PendingSignatures()
	if err != nil {
		return nil, err
	}
	ids := make(map[string]bool, len(pending))
	for _, p := range pending {
		ids[p.ShipmentID] = true
	}
	return ids, nil
}

// MarkAttempt bumps the retry counter on an outbox row.
func (s *Store) MarkAttempt(id uint) error {
	return s.db.Model(&PendingSignature{}).Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1")).Error
}

// ResolveSignature clears the outbox row once the upload has succeeded.
func (s *Store) ResolveSignature(shipmentID string) error {
	return s.db.Where("shipment_id = ?", shipmentID).Delete(&PendingSignature{}).Error
}
