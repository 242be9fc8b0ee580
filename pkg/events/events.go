// Package events publishes order lifecycle events to the message bus so
// downstream consumers (notifications, analytics) see every purchase and
// status change.
package events

import (
	"context"
	"time"
)

type PurchaseEvent struct {
	Type          string    `json:"type"`
	PurchaseID    string    `json:"purchaseId"`
	ServiceID     string    `json:"serviceId"`
	BuyerEmail    string    `json:"buyerEmail"`
	ProviderEmail string    `json:"providerEmail"`
	Status        string    `json:"status"`
	At            time.Time `json:"at"`
}

const (
	TypePurchaseCreated = "purchase.created"
	TypeStatusChanged   = "purchase.status_changed"
)

type Publisher interface {
	Publish(ctx context.Context, evt PurchaseEvent) error
	Close() error
}

// NopPublisher is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(ctx context.Context, evt PurchaseEvent) error { return nil }

func (NopPublisher) Close() error { return nil }
