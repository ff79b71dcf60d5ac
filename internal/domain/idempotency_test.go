package domain

import (
	"errors"
	"testing"
	"time"
)

func TestNewIdempotencyClaim(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.FixedZone("BST", 3600))

	rec, err := NewIdempotencyClaim("  key-1 ", " hash ", time.Time{}, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if rec.Key != "key-1" || rec.RequestHash != "hash" || rec.Status != IdempotencyStatusProcessing {
		t.Fatalf("unexpected claim: %+v", rec)
	}
	if !rec.TTLAt.Equal(now.Add(DefaultIdempotencyTTL)) || rec.CreatedAt.Location() != time.UTC {
		t.Fatalf("unexpected times: %+v", rec)
	}
	if rec.Expired(now) || !rec.Expired(rec.TTLAt) {
		t.Fatal("ttl boundary is inclusive")
	}

	if _, err := NewIdempotencyClaim(" ", "hash", now, now); !errors.Is(err, ErrIdempotencyKeyRequired) {
		t.Fatalf("expected key required, got %v", err)
	}
	if _, err := NewIdempotencyClaim("key", "", now, now); !errors.Is(err, ErrIdempotencyRequestHashRequired) {
		t.Fatalf("expected hash required, got %v", err)
	}
}

func TestIdempotencyRecord_ConflictWith(t *testing.T) {
	rec := IdempotencyRecord{Key: "k", RequestHash: "h1"}
	if err := rec.ConflictWith("h1"); !errors.Is(err, ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("same hash: %v", err)
	}
	if err := rec.ConflictWith("h2"); !errors.Is(err, ErrIdempotencyHashMismatch) {
		t.Fatalf("other hash: %v", err)
	}
}

func TestIdempotencyStatus(t *testing.T) {
	for status, want := range map[IdempotencyStatus][2]bool{
		IdempotencyStatusProcessing: {true, false},
		IdempotencyStatusDone:       {true, true},
		IdempotencyStatusFailed:     {true, true},
		"broken":                    {false, false},
	} {
		if status.Valid() != want[0] || status.Terminal() != want[1] {
			t.Fatalf("%q: valid=%v terminal=%v", status, status.Valid(), status.Terminal())
		}
	}
}
