package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Purchase links a buyer to a provider's listing snapshot. Everything except
// status is immutable once created.
type Purchase struct {
	ID                   uuid.UUID `json:"_id"`
	ServiceID            string    `json:"serviceId"`
	ServiceName          string    `json:"serviceName"`
	Price                string    `json:"price"`
	CurrentUserEmail     string    `json:"currentUserEmail"`
	CurrentUserName      string    `json:"currentUserName"`
	ServiceProviderEmail string    `json:"serviceProviderEmail"`
	ServiceTakingDate    string    `json:"serviceTakingDate"`
	SpecialInstruction   string    `json:"specialInstruction"`
	Status               string    `json:"status"`
	CreatedAt            time.Time `json:"createdAt"`
}

// PurchaseFilter scopes list reads to one side of the transaction. Zero
// value means unfiltered.
type PurchaseFilter struct {
	BuyerEmail    string
	ProviderEmail string
}

// Purchases adapts purchased-item operations onto the shared store.
type Purchases struct {
	DB      DB
	Timeout time.Duration
}

const purchaseColumns = `id, service_id, service_name, price, current_user_email, current_user_name,
	service_provider_email, service_taking_date, special_instruction, status, created_at`

func (p *Purchases) List(ctx context.Context, filter PurchaseFilter) ([]Purchase, error) {
	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()
	query := `SELECT ` + purchaseColumns + ` FROM purchased_items`
	args := []any{}
	switch {
	case filter.BuyerEmail != "":
		query += ` WHERE current_user_email=$1`
		args = append(args, filter.BuyerEmail)
	case filter.ProviderEmail != "":
		query += ` WHERE service_provider_email=$1`
		args = append(args, filter.ProviderEmail)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := p.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list purchases", err)
	}
	defer rows.Close()
	items := make([]Purchase, 0, 16)
	for rows.Next() {
		var item Purchase
		if err := scanPurchase(rows, &item); err != nil {
			return nil, storeErr("scan purchase", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list purchases", err)
	}
	return items, nil
}

func (p *Purchases) Get(ctx context.Context, id uuid.UUID) (Purchase, error) {
	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()
	row := p.DB.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchased_items WHERE id=$1`, id)
	var item Purchase
	if err := scanPurchase(row, &item); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrNotFound
		}
		return Purchase{}, storeErr("get purchase", err)
	}
	return item, nil
}

func (p *Purchases) Create(ctx context.Context, item Purchase) (uuid.UUID, error) {
	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()
	id := uuid.New()
	_, err := p.DB.Exec(ctx, `
		INSERT INTO purchased_items
		(id, service_id, service_name, price, current_user_email, current_user_name,
		 service_provider_email, service_taking_date, special_instruction, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, id, item.ServiceID, item.ServiceName, item.Price, item.CurrentUserEmail, item.CurrentUserName,
		item.ServiceProviderEmail, item.ServiceTakingDate, item.SpecialInstruction, item.Status)
	if err != nil {
		return uuid.Nil, storeErr("create purchase", err)
	}
	return id, nil
}

// UpdateStatus is the only mutation path for purchased items. It touches the
// status column alone, keeping buyer, provider and audit fields immutable.
func (p *Purchases) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (int64, error) {
	ctx, cancel := withTimeout(ctx, p.Timeout)
	defer cancel()
	cmd, err := p.DB.Exec(ctx, `UPDATE purchased_items SET status=$2 WHERE id=$1`, id, status)
	if err != nil {
		return 0, storeErr("update purchase status", err)
	}
	return cmd.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row rowScanner, item *Purchase) error {
	return row.Scan(
		&item.ID, &item.ServiceID, &item.ServiceName, &item.Price,
		&item.CurrentUserEmail, &item.CurrentUserName, &item.ServiceProviderEmail,
		&item.ServiceTakingDate, &item.SpecialInstruction, &item.Status, &item.CreatedAt,
	)
}
