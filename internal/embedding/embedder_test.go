package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestMockEmbedder(t *testing.T) {
	e := NewMockEmbedder(1024)
	ctx := context.Background()
	a, err := e.Embed(ctx, "adult anxiety panic attacks")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := e.Embed(ctx, "adult anxiety panic attacks")
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding must be deterministic")
		}
	}
	if got := cosine(a, a); math.Abs(got-1) > 1e-5 {
		t.Errorf("self similarity = %v", got)
	}
	related, _ := e.Embed(ctx, "anxiety in adults")
	unrelated, _ := e.Embed(ctx, "eating disorder adolescent")
	if cosine(a, related) <= cosine(a, unrelated) {
		t.Errorf("shared words should score higher: %v vs %v", cosine(a, related), cosine(a, unrelated))
	}
	if e.Dimensions() != 1024 || e.ModelVersion() == "" {
		t.Error("unexpected metadata")
	}
	batch, err := e.EmbedBatch(ctx, []string{"a", "b"})
	if err != nil || len(batch) != 2 {
		t.Errorf("EmbedBatch = %d, %v", len(batch), err)
	}
}

type slowEmbedder struct {
	MockEmbedder
	delay time.Duration
}

func (s *slowEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	time.Sleep(s.delay)
	return s.MockEmbedder.Embed(context.Background(), text)
}

func TestWithTimeout(t *testing.T) {
	slow := &slowEmbedder{MockEmbedder: *NewMockEmbedder(8), delay: 200 * time.Millisecond}
	e := WithTimeout(slow, 20*time.Millisecond)
	start := time.Now()
	_, err := e.Embed(context.Background(), "anxiety")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Error("timeout did not bound the call")
	}

	fast := WithTimeout(NewMockEmbedder(8), time.Second)
	if _, err := fast.Embed(context.Background(), "anxiety"); err != nil {
		t.Errorf("fast embed failed: %v", err)
	}
	if WithTimeout(slow, 0) != Embedder(slow) {
		t.Error("zero timeout should return the embedder unchanged")
	}
}

func TestUnavailable(t *testing.T) {
	var e Embedder = Unavailable{Dims: 8, Version: "none"}
	if _, err := e.Embed(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if e.ModelVersion() != "none" {
		t.Error("version not reported")
	}
}
