package embedding

// ONNXOptions configures an ONNX embedder.
type ONNXOptions struct {
	ModelPath    string
	ModelVersion string
	Dimensions   int
	MaxTokens    int
}
