package snapshot

import (
	"context"
	"errors"
	"testing"
)

var testID = Identifier{Repository: "fluxx-audit", Folder: "configuration_audit", FileID: "47"}

func TestIdentifierKey(t *testing.T) {
	if got := testID.Key(); got != "configuration_audit/47.json" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := testID.String(); got != "fluxx-audit/configuration_audit/47.json" {
		t.Fatalf("unexpected string %q", got)
	}
}

func TestCommitMessage(t *testing.T) {
	got := CommitMessage(User{FirstName: "Ada", LastName: "Lovelace"})
	if got != "Configuration Changed by Ada Lovelace" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	prev, err := store.GetPrevious(ctx, testID)
	if err != nil || prev != nil {
		t.Fatalf("expected absent snapshot, got %#v, %v", prev, err)
	}

	for _, raw := range []string{`{"a":1}`, `{"a":2}`} {
		if err := store.PutCurrent(ctx, testID, Snapshot{Raw: raw}, Commit{Message: "m"}); err != nil {
			t.Fatalf("PutCurrent: %v", err)
		}
	}

	prev, err = store.GetPrevious(ctx, testID)
	if err != nil {
		t.Fatalf("GetPrevious: %v", err)
	}
	if prev.Raw != `{"a":2}` {
		t.Fatalf("expected latest snapshot, got %q", prev.Raw)
	}
	if n := len(store.History(testID)); n != 2 {
		t.Fatalf("expected 2 revisions, got %d", n)
	}
}

func TestMemoryStore_Failures(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	store.Seed(testID, Snapshot{Raw: `{}`})

	store.FailReads = true
	if _, err := store.GetPrevious(ctx, testID); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	store.FailWrites = true
	if err := store.PutCurrent(ctx, testID, Snapshot{Raw: `{"a":1}`}, Commit{}); !errors.Is(err, ErrStoreWriteFailed) {
		t.Fatalf("expected ErrStoreWriteFailed, got %v", err)
	}
	if n := len(store.History(testID)); n != 1 {
		t.Fatalf("failed write must leave history unchanged, got %d revisions", n)
	}
}
