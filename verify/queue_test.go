package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pawfectfind/pawfect-importer/models"
	"github.com/pawfectfind/pawfect-importer/store"
)

func TestQueueApplyPrice(t *testing.T) {
	backend := newBackend(t)
	p := seed(t, backend, amazonProduct("B000000001", 19.99))[0]

	price := 24.5
	q := NewQueue(store.NewHandle(backend, backend))
	q.Add(models.VerificationResult{ProductID: p.ID, Exists: true, PriceChanged: true, CurrentPrice: 19.99, NewPrice: &price})

	if err := q.ApplyPrice(context.Background(), p.ID); err != nil {
		t.Fatalf("apply: %v", err)
	}
	got, err := backend.GetProduct(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Price != 24.5 {
		t.Fatalf("price = %v", got.Price)
	}
	if len(q.Pending()) != 0 {
		t.Fatalf("entry not cleared: %+v", q.Pending())
	}
	if err := q.ApplyPrice(context.Background(), p.ID); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestQueueRemove(t *testing.T) {
	backend := newBackend(t)
	p := seed(t, backend, amazonProduct("B000000001", 10))[0]

	q := NewQueue(store.NewHandle(backend, backend))
	q.Add(models.VerificationResult{ProductID: p.ID}, models.VerificationResult{ProductID: "already-gone"})

	if err := q.Remove(context.Background(), p.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := backend.GetProduct(context.Background(), p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected product deleted, got %v", err)
	}
	if err := q.Remove(context.Background(), "already-gone"); err != nil {
		t.Fatalf("remove missing product: %v", err)
	}
	if len(q.Pending()) != 0 {
		t.Fatalf("pending = %+v", q.Pending())
	}
}

func TestQueueKeepsEntryWhenWriteFails(t *testing.T) {
	price := 1.0
	q := NewQueue(store.NewHandle(nil, nil))
	q.Add(models.VerificationResult{ProductID: "p-1", PriceChanged: true, NewPrice: &price})

	if err := q.ApplyPrice(context.Background(), "p-1"); !errors.Is(err, store.ErrNoPrivilege) {
		t.Fatalf("expected ErrNoPrivilege, got %v", err)
	}
	if err := q.Remove(context.Background(), "p-1"); !errors.Is(err, store.ErrNoPrivilege) {
		t.Fatalf("expected ErrNoPrivilege, got %v", err)
	}
	if _, ok := q.Get("p-1"); !ok {
		t.Fatal("entry cleared after failed write")
	}
}

func TestQueueDismissAndOrder(t *testing.T) {
	now := time.Now()
	q := NewQueue(store.NewHandle(nil, nil))
	q.Add(
		models.VerificationResult{ProductID: "b", CheckedAt: now.Add(time.Second)},
		models.VerificationResult{ProductID: "a", CheckedAt: now},
		models.VerificationResult{ProductID: "c", CheckedAt: now},
	)

	pending := q.Pending()
	if len(pending) != 3 || pending[0].ProductID != "a" || pending[1].ProductID != "c" || pending[2].ProductID != "b" {
		t.Fatalf("pending = %+v", pending)
	}

	if err := q.ApplyPrice(context.Background(), "a"); !errors.Is(err, ErrNoNewPrice) {
		t.Fatalf("expected ErrNoNewPrice, got %v", err)
	}
	if err := q.Dismiss("a"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if err := q.Dismiss("a"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
	if len(q.Pending()) != 2 {
		t.Fatalf("pending = %+v", q.Pending())
	}
}
