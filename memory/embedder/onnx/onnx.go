//go:build onnx

// Package onnx embeds text locally with an ONNX sentence-transformer model
// (all-MiniLM-L6-v2 by default): real semantic similarity, fully offline.
// Gated behind the onnx build tag because it needs the onnxruntime shared
// library and model files on disk.
package onnx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/memoryos/memoryos-go/memory"
)

// Config configures the ONNX embedder.
type Config struct {
	// ModelPath is the path to the ONNX model file. Required.
	ModelPath string

	// TokenizerPath is the path to the model's tokenizer.json. Required.
	TokenizerPath string

	// RuntimeLibrary is the path to libonnxruntime. Empty uses whatever
	// path a previous initialization set.
	RuntimeLibrary string

	// Dimensions is the embedding size. Default: 384 (all-MiniLM-L6-v2).
	Dimensions int

	// MaxSequence is the token window. Default: 128.
	MaxSequence int
}

// Embedder runs sentence-transformer inference through ONNX Runtime.
type Embedder struct {
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPieceTokenizer
	dims      int
	maxSeq    int
}

// New creates an ONNX embedder from a model and tokenizer on disk.
func New(cfg Config) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: ModelPath is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxSequence == 0 {
		cfg.MaxSequence = 128
	}

	if cfg.RuntimeLibrary != "" {
		ort.SetSharedLibraryPath(cfg.RuntimeLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	tok, err := loadWordPieceTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	return &Embedder{
		session:   session,
		tokenizer: tok,
		dims:      cfg.Dimensions,
		maxSeq:    cfg.MaxSequence,
	}, nil
}

// Embed tokenizes, runs the model, mean-pools over attended positions, and
// returns the normalized vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ids := e.tokenizer.tokenize(text)

	inputIDs := make([]int64, e.maxSeq)
	attention := make([]int64, e.maxSeq)
	tokenTypes := make([]int64, e.maxSeq)

	inputIDs[0] = int64(e.tokenizer.cls)
	attention[0] = 1
	n := len(ids)
	if n > e.maxSeq-2 {
		n = e.maxSeq - 2
	}
	for i := 0; i < n; i++ {
		inputIDs[i+1] = ids[i]
		attention[i+1] = 1
	}
	inputIDs[n+1] = int64(e.tokenizer.sep)
	attention[n+1] = 1

	shape := ort.NewShape(1, int64(e.maxSeq))
	idTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("onnx: input_ids tensor: %w", err)
	}
	defer idTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, fmt.Errorf("onnx: attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, tokenTypes)
	if err != nil {
		return nil, fmt.Errorf("onnx: token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := e.session.Run([]ort.Value{idTensor, maskTensor, typeTensor}, outputs); err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx: unexpected output tensor type")
	}
	data := out.GetData()
	dims := out.GetShape()

	vec := make([]float32, e.dims)
	switch len(dims) {
	case 2:
		if len(data) < e.dims {
			return nil, fmt.Errorf("onnx: output dimension mismatch: got %d, want %d", len(data), e.dims)
		}
		copy(vec, data[:e.dims])
	case 3:
		seqLen := int(dims[1])
		hidden := int(dims[2])
		if hidden != e.dims {
			return nil, fmt.Errorf("onnx: hidden size mismatch: got %d, want %d", hidden, e.dims)
		}
		attended := 0
		for i := 0; i < seqLen; i++ {
			if attention[i] == 0 {
				continue
			}
			attended++
			for j := 0; j < hidden; j++ {
				vec[j] += data[i*hidden+j]
			}
		}
		if attended == 0 {
			return nil, fmt.Errorf("onnx: no attended tokens")
		}
		for j := range vec {
			vec[j] /= float32(attended)
		}
	default:
		return nil, fmt.Errorf("onnx: unexpected output shape %v", dims)
	}

	return memory.Normalize(vec), nil
}

// Dimensions returns the embedding vector size.
func (e *Embedder) Dimensions() int {
	return e.dims
}

// Close releases the ONNX session.
func (e *Embedder) Close() error {
	if e.session != nil {
		return e.session.Destroy()
	}
	return nil
}

// wordPieceTokenizer is a minimal BERT WordPiece tokenizer backed by the
// model's tokenizer.json vocabulary.
type wordPieceTokenizer struct {
	vocab map[string]int
	cls   int
	sep   int
	unk   int
}

func loadWordPieceTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &wordPieceTokenizer{
		vocab: file.Model.Vocab,
		cls:   101,
		sep:   102,
		unk:   100,
	}, nil
}

func (t *wordPieceTokenizer) tokenize(text string) []int64 {
	var ids []int64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'")
		if word == "" {
			continue
		}
		if id, ok := t.vocab[word]; ok {
			ids = append(ids, int64(id))
			continue
		}
		ids = append(ids, t.wordPiece(word)...)
	}
	return ids
}

// wordPiece greedily matches the longest vocabulary prefix, prefixing
// continuations with "##" per BERT convention.
func (t *wordPieceTokenizer) wordPiece(word string) []int64 {
	var ids []int64
	start := 0
	for start < len(word) {
		matched := false
		for end := len(word); end > start; end-- {
			piece := word[start:end]
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				ids = append(ids, int64(id))
				start = end
				matched = true
				break
			}
		}
		if !matched {
			ids = append(ids, int64(t.unk))
			start++
		}
	}
	return ids
}
