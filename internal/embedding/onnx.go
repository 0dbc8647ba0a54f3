//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/referwell/matcher/pkg/utils"
)

var (
	initOnce sync.Once
	initErr  error
)

// modelIO are the tensors bound to a session. Run overwrites the output in place.
type modelIO struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
}

func newModelIO(maxTokens, dimensions int) (*modelIO, error) {
	io := &modelIO{}
	inShape := ort.NewShape(1, int64(maxTokens))
	var err error
	if io.inputIDs, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if io.attentionMask, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		io.destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if io.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		io.destroy()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if io.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions))); err != nil {
		io.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	return io, nil
}

func (io *modelIO) inputs() []ort.ArbitraryTensor {
	return []ort.ArbitraryTensor{io.inputIDs, io.attentionMask, io.tokenTypeIDs}
}

func (io *modelIO) destroy() {
	for _, t := range []*ort.Tensor[int64]{io.inputIDs, io.attentionMask, io.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	if io.output != nil {
		_ = io.output.Destroy()
	}
	*io = modelIO{}
}

// ONNXEmbedder runs a sentence-embedding model with ONNX Runtime. It requires
// CGO and the onnxruntime shared library. Inference is serialized because the
// session reuses one set of tensors.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	io         *modelIO
	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
	version    string
}

// NewONNXEmbedder loads the model at opts.ModelPath. The runtime environment
// is initialized once per process.
func NewONNXEmbedder(opts ONNXOptions) (*ONNXEmbedder, error) {
	if opts.ModelPath == "" || opts.Dimensions <= 0 {
		return nil, errors.New("onnx embedder: model path and dimensions are required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 2 {
		maxTokens = 256
	}
	initOnce.Do(func() { initErr = ort.InitializeEnvironment() })
	if initErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", initErr)
	}

	io, err := newModelIO(maxTokens, opts.Dimensions)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(
		opts.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		io.inputs(),
		[]ort.ArbitraryTensor{io.output},
		nil,
	)
	if err != nil {
		io.destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", opts.ModelPath, err)
	}
	return &ONNXEmbedder{
		session:    session,
		io:         io,
		tokenizer:  &SimpleTokenizer{},
		dimensions: opts.Dimensions,
		maxTokens:  maxTokens,
		version:    opts.ModelVersion,
	}, nil
}

// Embed returns the L2-normalized embedding of text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.infer(ctx, text)
}

// EmbedBatch embeds texts in order. It stops at the first failure or when ctx
// is done.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.infer(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// infer runs one inference. Callers hold e.mu.
func (e *ONNXEmbedder) infer(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.session == nil {
		return nil, ErrUnavailable
	}
	ids, mask, types := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.io.inputIDs.GetData(), ids)
	copy(e.io.attentionMask.GetData(), mask)
	copy(e.io.tokenTypeIDs.GetData(), types)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	vec := make([]float32, e.dimensions)
	copy(vec, e.io.output.GetData())
	utils.NormalizeL2(vec)
	return vec, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// ModelVersion returns the configured model version.
func (e *ONNXEmbedder) ModelVersion() string {
	return e.version
}

// Close releases the session and its tensors. Later calls fail with ErrUnavailable.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.io.destroy()
	return err
}
