package main

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"servicehub/pkg/audit"
	"servicehub/pkg/auth"
	"servicehub/pkg/events"
	"servicehub/pkg/metrics"
	"servicehub/pkg/store"
	"servicehub/pkg/stream"
)

type fakeAPIDB struct {
	execFn     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	execSQL    []string
	execArgs   [][]any
	queryCount int
}

func (f *fakeAPIDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, arguments)
	if f.execFn != nil {
		return f.execFn(ctx, sql, arguments...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeAPIDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.queryCount++
	if f.queryFn != nil {
		return f.queryFn(ctx, sql, args...)
	}
	return &fakeAPIRows{}, nil
}

func (f *fakeAPIDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.queryRowFn != nil {
		return f.queryRowFn(ctx, sql, args...)
	}
	return fakeAPIRow{err: pgx.ErrNoRows}
}

func (f *fakeAPIDB) Close() {}

type fakeAPIRow struct {
	values []any
	err    error
}

func (r fakeAPIRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assignAPIScan(dest, r.values)
}

type fakeAPIRows struct {
	rows [][]any
	idx  int
}

func (r *fakeAPIRows) Close()                                       {}
func (r *fakeAPIRows) Err() error                                   { return nil }
func (r *fakeAPIRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT 1") }
func (r *fakeAPIRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeAPIRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeAPIRows) RawValues() [][]byte                          { return nil }
func (r *fakeAPIRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeAPIRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeAPIRows) Scan(dest ...any) error {
	if r.idx == 0 || r.idx > len(r.rows) {
		return errors.New("no current row")
	}
	return assignAPIScan(dest, r.rows[r.idx-1])
}

func assignAPIScan(dest []any, values []any) error {
	if len(dest) != len(values) {
		return errors.New("scan arity mismatch")
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *string:
			v, ok := values[i].(string)
			if !ok {
				return errors.New("value is not string")
			}
			*d = v
		case *uuid.UUID:
			v, ok := values[i].(uuid.UUID)
			if !ok {
				return errors.New("value is not uuid")
			}
			*d = v
		case *time.Time:
			v, ok := values[i].(time.Time)
			if !ok {
				return errors.New("value is not time.Time")
			}
			*d = v
		default:
			return errors.New("unsupported scan destination")
		}
	}
	return nil
}

type recordingBus struct {
	published []events.PurchaseEvent
	err       error
}

func (b *recordingBus) Publish(ctx context.Context, evt events.PurchaseEvent) error {
	if b.err != nil {
		return b.err
	}
	b.published = append(b.published, evt)
	return nil
}

func (b *recordingBus) Close() error { return nil }

const testTokenSecret = "test-secret"

func newTestServer(db *fakeAPIDB) (*Server, *recordingBus) {
	bus := &recordingBus{}
	return &Server{
		DB:                  db,
		Services:            &store.Services{DB: db},
		Purchases:           &store.Purchases{DB: db},
		Cache:               store.NewMemoryCache(),
		Audit:               &audit.Writer{DB: db},
		Events:              stream.NewHub(),
		Bus:                 bus,
		Metrics:             metrics.NewRegistry(),
		LoginRateLimit:      30,
		RateLimitWindow:     time.Minute,
		TokenSecret:         testTokenSecret,
		TokenTTL:            auth.DefaultTokenTTL,
		ServicesCacheTTL:    time.Minute,
		MaxRequestBodyBytes: 1 << 20,
	}, bus
}

func sessionCookie(t *testing.T, email string) *http.Cookie {
	t.Helper()
	token, err := auth.IssueToken(email, testTokenSecret, time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return &http.Cookie{Name: auth.TokenCookieName, Value: token}
}

func serviceAPIRow(id uuid.UUID, name, provider string) []any {
	return []any{id, name, "100", "dhaka", "desc", "img", provider, "Provider", "pimg", time.Now().UTC()}
}

func purchaseAPIRow(id uuid.UUID, buyer, provider, status string) []any {
	return []any{id, "svc-1", "Cleaning", "100", buyer, "Buyer", provider, "2026-09-01", "", status, time.Now().UTC()}
}
