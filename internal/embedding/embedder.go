// Package embedding provides text embedding via ONNX, a deterministic mock,
// and wrappers that bound or disable the embedding function.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned when no embedding function is reachable.
var ErrUnavailable = errors.New("embedding function unavailable")

// Embedder produces vector embeddings for text. Identical text and model
// version must yield identical vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelVersion() string
	Close() error
}

// Unavailable is an Embedder that always fails. It is used when no model is
// configured, so every run takes the lexical-only path.
type Unavailable struct {
	Dims    int
	Version string
}

func (u Unavailable) Embed(context.Context, string) ([]float32, error) { return nil, ErrUnavailable }

func (u Unavailable) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, ErrUnavailable
}

func (u Unavailable) Dimensions() int      { return u.Dims }
func (u Unavailable) ModelVersion() string { return u.Version }
func (u Unavailable) Close() error         { return nil }

// TimeoutEmbedder bounds every call to the wrapped Embedder.
type TimeoutEmbedder struct {
	inner   Embedder
	timeout time.Duration
}

// WithTimeout wraps e so that each call fails after d. A non-positive d returns e unchanged.
func WithTimeout(e Embedder, d time.Duration) Embedder {
	if d <= 0 {
		return e
	}
	return &TimeoutEmbedder{inner: e, timeout: d}
}

type embedResult struct {
	vecs [][]float32
	err  error
}

// Embed runs the wrapped call and abandons it when the deadline passes. The
// wrapped call keeps running in the background until it returns.
func (t *TimeoutEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := t.run(ctx, func(ctx context.Context) ([][]float32, error) {
		v, err := t.inner.Embed(ctx, text)
		return [][]float32{v}, err
	})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch is Embed for several texts under a single deadline.
func (t *TimeoutEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return t.run(ctx, func(ctx context.Context) ([][]float32, error) {
		return t.inner.EmbedBatch(ctx, texts)
	})
}

func (t *TimeoutEmbedder) run(ctx context.Context, fn func(context.Context) ([][]float32, error)) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan embedResult, 1)
	go func() {
		v, err := fn(ctx)
		done <- embedResult{vecs: v, err: err}
	}()
	select {
	case r := <-done:
		return r.vecs, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("embedding timed out after %s: %w", t.timeout, ctx.Err())
	}
}

func (t *TimeoutEmbedder) Dimensions() int      { return t.inner.Dimensions() }
func (t *TimeoutEmbedder) ModelVersion() string { return t.inner.ModelVersion() }
func (t *TimeoutEmbedder) Close() error         { return t.inner.Close() }
