package evidence_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/walmarket/settlement-engine/internal/evidence"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	st := evidence.NewMemoryStore()
	ctx := context.Background()

	data := []byte(`{"outcome":"yes"}`)
	ptr, err := st.Put(ctx, "m1/full", data)
	if err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if ptr == "" {
		t.Fatal("expected non-empty pointer")
	}

	got, err := st.Get(ctx, ptr)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip mismatch: %s", got)
	}
}

func TestMemoryStore_PointerIsContentAddressed(t *testing.T) {
	st := evidence.NewMemoryStore()
	ctx := context.Background()

	a, _ := st.Put(ctx, "key-a", []byte("same"))
	b, _ := st.Put(ctx, "key-b", []byte("same"))
	if a != b {
		t.Errorf("identical content should share a pointer: %s vs %s", a, b)
	}

	c, _ := st.Put(ctx, "key-a", []byte("different"))
	if a == c {
		t.Error("different content must not share a pointer")
	}
}

func TestMemoryStore_UnknownPointer(t *testing.T) {
	st := evidence.NewMemoryStore()

	_, err := st.Get(context.Background(), "blob:nope")
	if !errors.Is(err, evidence.ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	st := evidence.NewMemoryStore()
	ctx := context.Background()

	data := []byte("original")
	ptr, _ := st.Put(ctx, "k", data)
	data[0] = 'X'

	got, _ := st.Get(ctx, ptr)
	if string(got) != "original" {
		t.Errorf("store must not alias caller buffers, got %s", got)
	}

	got[0] = 'Y'
	again, _ := st.Get(ctx, ptr)
	if string(again) != "original" {
		t.Errorf("reads must not alias each other, got %s", again)
	}
}
