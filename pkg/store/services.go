package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Service is a provider's marketplace listing. Field values arrive from a
// loosely-typed client, so prices and similar attributes stay textual.
type Service struct {
	ID                   uuid.UUID `json:"_id"`
	ServiceName          string    `json:"serviceName"`
	Price                string    `json:"price"`
	ServiceArea          string    `json:"serviceArea"`
	Description          string    `json:"description"`
	ImageURL             string    `json:"imageUrl"`
	ServiceProviderEmail string    `json:"serviceProviderEmail"`
	ServiceProviderName  string    `json:"serviceProviderName"`
	ServiceProviderImage string    `json:"serviceProviderImage"`
	CreatedAt            time.Time `json:"createdAt"`
}

// Services adapts listing operations onto the shared persistence store.
type Services struct {
	DB      DB
	Timeout time.Duration
}

const serviceColumns = `id, service_name, price, service_area, description, image_url,
	service_provider_email, service_provider_name, service_provider_image, created_at`

// List returns listings, newest first, optionally scoped to one provider.
func (s *Services) List(ctx context.Context, providerEmail string) ([]Service, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	query := `SELECT ` + serviceColumns + ` FROM services`
	args := []any{}
	if providerEmail != "" {
		query += ` WHERE service_provider_email=$1`
		args = append(args, providerEmail)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list services", err)
	}
	defer rows.Close()
	items := make([]Service, 0, 16)
	for rows.Next() {
		var item Service
		if err := rows.Scan(
			&item.ID, &item.ServiceName, &item.Price, &item.ServiceArea, &item.Description,
			&item.ImageURL, &item.ServiceProviderEmail, &item.ServiceProviderName,
			&item.ServiceProviderImage, &item.CreatedAt,
		); err != nil {
			return nil, storeErr("scan service", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list services", err)
	}
	return items, nil
}

// Create inserts a listing and returns the store-assigned identifier.
func (s *Services) Create(ctx context.Context, svc Service) (uuid.UUID, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	id := uuid.New()
	_, err := s.DB.Exec(ctx, `
		INSERT INTO services
		(id, service_name, price, service_area, description, image_url,
		 service_provider_email, service_provider_name, service_provider_image, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
	`, id, svc.ServiceName, svc.Price, svc.ServiceArea, svc.Description, svc.ImageURL,
		svc.ServiceProviderEmail, svc.ServiceProviderName, svc.ServiceProviderImage)
	if err != nil {
		return uuid.Nil, storeErr("create service", err)
	}
	return id, nil
}

// updatableServiceColumns maps client field names onto columns. The
// identifier is immutable post-creation and never appears here.
var updatableServiceColumns = map[string]string{
	"serviceName":          "service_name",
	"price":                "price",
	"serviceArea":          "service_area",
	"description":          "description",
	"imageUrl":             "image_url",
	"serviceProviderEmail": "service_provider_email",
	"serviceProviderName":  "service_provider_name",
	"serviceProviderImage": "service_provider_image",
}

// Update applies a partial field replace. Client-supplied identity fields and
// unknown attributes are dropped before the update is built.
func (s *Services) Update(ctx context.Context, id uuid.UUID, fields map[string]any) (UpdateResult, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	sets := ""
	args := []any{id}
	for field, value := range fields {
		column, ok := updatableServiceColumns[field]
		if !ok {
			continue
		}
		args = append(args, textValue(value))
		if sets != "" {
			sets += ", "
		}
		sets += column + "=$" + strconv.Itoa(len(args))
	}
	if sets == "" {
		return UpdateResult{}, nil
	}
	cmd, err := s.DB.Exec(ctx, `UPDATE services SET `+sets+` WHERE id=$1`, args...)
	if err != nil {
		return UpdateResult{}, storeErr("update service", err)
	}
	n := cmd.RowsAffected()
	return UpdateResult{Matched: n, Modified: n}, nil
}

// Delete removes a listing. Deleting a missing id is not an error; the
// zero count tells the caller nothing matched.
func (s *Services) Delete(ctx context.Context, id uuid.UUID) (int64, error) {
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()
	cmd, err := s.DB.Exec(ctx, `DELETE FROM services WHERE id=$1`, id)
	if err != nil {
		return 0, storeErr("delete service", err)
	}
	return cmd.RowsAffected(), nil
}

// textValue coerces loosely-typed document values into their textual column
// representation.
func textValue(v any) any {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}
