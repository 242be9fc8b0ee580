// Package audit persists the status history of purchased service orders.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Writer struct {
	DB auditDB
}

type Record struct {
	ID         uuid.UUID `json:"_id"`
	PurchaseID uuid.UUID `json:"purchaseId"`
	FromStatus string    `json:"fromStatus"`
	ToStatus   string    `json:"toStatus"`
	ActorHash  string    `json:"actorHash"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (w *Writer) Append(ctx context.Context, rec Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO status_audit
		(id, purchase_id, from_status, to_status, actor_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, rec.ID, rec.PurchaseID, rec.FromStatus, rec.ToStatus, rec.ActorHash, rec.CreatedAt)
	return err
}

// ListByPurchase returns the transitions of one order, oldest first.
func (w *Writer) ListByPurchase(ctx context.Context, purchaseID uuid.UUID) ([]Record, error) {
	rows, err := w.DB.Query(ctx, `
		SELECT id, purchase_id, from_status, to_status, actor_hash, created_at
		FROM status_audit WHERE purchase_id=$1 ORDER BY created_at ASC
	`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []Record{}
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.PurchaseID, &rec.FromStatus, &rec.ToStatus, &rec.ActorHash, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
