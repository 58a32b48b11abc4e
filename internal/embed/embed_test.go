package embed

import (
	"context"
	"math"
	"testing"
)

func TestHashing_Deterministic(t *testing.T) {
	h := NewHashing(0)
	ctx := context.Background()

	a, err := h.Embed(ctx, "Day: Monday, Subject: DSA")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := h.Embed(ctx, "Day: Monday, Subject: DSA")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if len(a) != DefaultDimensions {
		t.Fatalf("len = %d, want %d", len(a), DefaultDimensions)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestHashing_Normalized(t *testing.T) {
	vec, _ := NewHashing(64).Embed(context.Background(), "data structures class")

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("squared norm = %v, want 1", norm)
	}
}

func TestHashing_EmptyTextIsZeroVector(t *testing.T) {
	vec, err := NewHashing(16).Embed(context.Background(), "  ,, ")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("vec[%d] = %v, want 0", i, v)
		}
	}
}

func TestHashing_BatchPreservesOrder(t *testing.T) {
	h := NewHashing(32)
	ctx := context.Background()
	texts := []string{"monday lab", "friday theory", "saturday"}

	batch, err := h.EmbedBatch(ctx, texts)
	if err != nil {
		t.Fatalf("EmbedBatch() error = %v", err)
	}
	if len(batch) != len(texts) {
		t.Fatalf("len(batch) = %d, want %d", len(batch), len(texts))
	}
	for i, text := range texts {
		single, _ := h.Embed(ctx, text)
		for j := range single {
			if single[j] != batch[i][j] {
				t.Fatalf("batch[%d] differs from Embed(%q) at %d", i, text, j)
			}
		}
	}
}

func TestHashing_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewHashing(8).EmbedBatch(ctx, []string{"a"}); err == nil {
		t.Error("EmbedBatch() expected error on canceled context")
	}
}
