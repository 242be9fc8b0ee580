package audit

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeAuditDB struct {
	execSQL  []string
	execArgs [][]any
	execErr  error
	rows     [][]any
	queryErr error
}

func (f *fakeAuditDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeAuditDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &fakeAuditRows{rows: f.rows}, nil
}

type fakeAuditRows struct {
	rows [][]any
	idx  int
}

func (r *fakeAuditRows) Close()                                       {}
func (r *fakeAuditRows) Err() error                                   { return nil }
func (r *fakeAuditRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT 1") }
func (r *fakeAuditRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeAuditRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeAuditRows) RawValues() [][]byte                          { return nil }
func (r *fakeAuditRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeAuditRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeAuditRows) Scan(dest ...any) error {
	current := r.rows[r.idx-1]
	if len(dest) != len(current) {
		return errors.New("scan arity mismatch")
	}
	for i := range dest {
		switch d := dest[i].(type) {
		case *uuid.UUID:
			*d = current[i].(uuid.UUID)
		case *string:
			*d = current[i].(string)
		case *time.Time:
			*d = current[i].(time.Time)
		default:
			return errors.New("unsupported scan destination")
		}
	}
	return nil
}

func TestAppendFillsDefaults(t *testing.T) {
	db := &fakeAuditDB{}
	w := &Writer{DB: db}
	purchaseID := uuid.New()

	err := w.Append(context.Background(), Record{
		PurchaseID: purchaseID,
		FromStatus: "pending",
		ToStatus:   "in-progress",
		ActorHash:  "abc123",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(db.execSQL) != 1 || !strings.Contains(db.execSQL[0], "INSERT INTO status_audit") {
		t.Fatalf("unexpected exec: %v", db.execSQL)
	}
	args := db.execArgs[0]
	if args[0] == uuid.Nil {
		t.Fatal("id should be generated")
	}
	if args[1] != purchaseID || args[2] != "pending" || args[3] != "in-progress" {
		t.Fatalf("unexpected args: %v", args)
	}
	if ts, ok := args[5].(time.Time); !ok || ts.IsZero() {
		t.Fatalf("created_at should be stamped, got %v", args[5])
	}
}

func TestAppendPropagatesError(t *testing.T) {
	db := &fakeAuditDB{execErr: errors.New("down")}
	w := &Writer{DB: db}

	if err := w.Append(context.Background(), Record{PurchaseID: uuid.New()}); err == nil {
		t.Fatal("expected error")
	}
}

func TestListByPurchase(t *testing.T) {
	purchaseID := uuid.New()
	t0 := time.Date(2026, 8, 10, 8, 0, 0, 0, time.UTC)
	db := &fakeAuditDB{rows: [][]any{
		{uuid.New(), purchaseID, "pending", "in-progress", "h1", t0},
		{uuid.New(), purchaseID, "in-progress", "completed", "h1", t0.Add(time.Hour)},
	}}
	w := &Writer{DB: db}

	records, err := w.ListByPurchase(context.Background(), purchaseID)
	if err != nil {
		t.Fatalf("ListByPurchase: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ToStatus != "in-progress" || records[1].ToStatus != "completed" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestListByPurchaseEmpty(t *testing.T) {
	w := &Writer{DB: &fakeAuditDB{}}

	records, err := w.ListByPurchase(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("ListByPurchase: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty slice, got %v", records)
	}
}

func TestListByPurchaseQueryError(t *testing.T) {
	w := &Writer{DB: &fakeAuditDB{queryErr: errors.New("down")}}

	if _, err := w.ListByPurchase(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error")
	}
}
