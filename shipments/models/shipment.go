package models

import (
	"strings"
	"time"
)

// Status is the backend's shipment status. The wire values are fixed by the
// server; note "In Transit" carries a space.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusInTransit Status = "In Transit"
	StatusDelivered Status = "Delivered"
)

// ParseStatus resolves a status label case-insensitively.
func ParseStatus(s string) (Status, bool) {
	for _, known := range []Status{StatusPending, StatusInTransit, StatusDelivered} {
		if strings.EqualFold(s, string(known)) {
			return known, true
		}
	}
	return "", false
}

// Next returns the status a valid scan advances to. The progression is
// one-directional: Pending -> In Transit -> Delivered. There is no next
// status for Delivered or for anything unrecognized.
func (s Status) Next() (Status, bool) {
	switch s {
	case StatusPending:
		return StatusInTransit, true
	case StatusInTransit:
		return StatusDelivered, true
	default:
		return "", false
	}
}

func (s Status) Terminal() bool {
	return s == StatusDelivered
}

// Matches reports whether the status passes a filter label. "All" passes
// everything; otherwise the comparison is case-insensitive.
func (s Status) Matches(filter string) bool {
	if filter == "" || strings.EqualFold(filter, "All") {
		return true
	}
	return strings.EqualFold(string(s), filter)
}

type TaskType string

const (
	TypePickup   TaskType = "Pickup"
	TypeDelivery TaskType = "Delivery"
)

type Shipment struct {
	ID             string     `json:"id" gorm:"primaryKey;size:64"`
	TrackingNumber string     `json:"trackingNumber" gorm:"size:100;not null"`
	Status         Status     `json:"status" gorm:"size:20;not null"`
	Destination    string     `json:"destination" gorm:"size:256"`
	ReceiverName   string     `json:"receiverName,omitempty" gorm:"size:100"`
	ReceiverPhone  string     `json:"receiverPhone,omitempty" gorm:"size:30"`
	Sender         string     `json:"sender,omitempty" gorm:"size:100"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	DeliveredAt    *time.Time `json:"deliveredAt,omitempty"`
	UpdatedAt      *time.Time `json:"updatedAt,omitempty"`
}

// Type derives the task kind from the current status: a pending shipment is
// a pickup, everything else is a delivery. Never persisted, recomputed on
// every read.
func (s Shipment) Type() TaskType {
	if s.Status == StatusPending {
		return TypePickup
	}
	return TypeDelivery
}

// RelevantTime is the timestamp date filters key on: the delivery time for
// delivered shipments, the assignment time otherwise.
func (s Shipment) RelevantTime() time.Time {
	if s.Status.Terminal() && s.DeliveredAt != nil {
		return *s.DeliveredAt
	}
	if s.CreatedAt != nil {
		return *s.CreatedAt
	}
	return time.Time{}
}
