// Package vectorstore generates per-row text embeddings and manages their
// storage in Postgres, natively through pgvector or through a BYTEA
// fallback when the extension is unavailable.
package vectorstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const defaultDim = 768

// Encoder turns texts into fixed-dimension vectors. The embedding backend
// is an OpenAI-compatible API reached lazily on first use. When no host is
// configured, or the backend fails, the encoder degrades to deterministic
// pseudo-random unit vectors seeded from the text. Degraded vectors carry
// no semantics, they only keep the pipeline and its tests runnable.
type Encoder struct {
	model  string
	host   string
	dim    int
	logger *slog.Logger

	mu       sync.Mutex
	backend  embeddings.Embedder
	degraded bool
}

// NewEncoder builds an encoder for the given model. An empty host selects
// degraded mode, dim <= 0 selects the default dimensionality.
func NewEncoder(model, host string, dim int, logger *slog.Logger) *Encoder {
	if dim <= 0 {
		dim = defaultDim
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{
		model:  model,
		host:   host,
		dim:    dim,
		logger: logger.With("component", "encoder", "model", model),
	}
}

// Dim reports the vector dimensionality, fixed at construction.
func (e *Encoder) Dim() int { return e.dim }

// Encode embeds a batch of texts, one vector per input.
func (e *Encoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if backend := e.acquireBackend(); backend != nil {
		vecs, err := backend.EmbedDocuments(ctx, texts)
		if err == nil && len(vecs) == len(texts) {
			return vecs, nil
		}
		e.mu.Lock()
		e.degraded = true
		e.backend = nil
		e.mu.Unlock()
		e.logger.Warn("embedding backend failed, switching to degraded vectors", "error", err)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.fallbackVector(t)
	}
	return out, nil
}

// acquireBackend initializes the langchaingo embedder once. A missing host
// or a failed init flips the encoder into degraded mode for the rest of
// the process.
func (e *Encoder) acquireBackend() embeddings.Embedder {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.backend != nil || e.degraded {
		return e.backend
	}
	if e.host == "" {
		e.degraded = true
		e.logger.Info("no embedding host configured, using degraded vectors")
		return nil
	}
	// local OpenAI-compatible services accept any token
	token := os.Getenv("OPENAI_API_KEY")
	if token == "" {
		token = "none"
	}
	llm, err := openai.New(
		openai.WithBaseURL(e.host),
		openai.WithToken(token),
		openai.WithEmbeddingModel(e.model),
	)
	if err == nil {
		e.backend, err = embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(true))
	}
	if err != nil {
		e.degraded = true
		e.backend = nil
		e.logger.Warn("embedding backend unavailable, using degraded vectors", "host", e.host, "error", err)
		return nil
	}
	return e.backend
}

// fallbackVector derives a deterministic unit vector from the text so
// degraded runs stay reproducible.
func (e *Encoder) fallbackVector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	v := make([]float32, e.dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return Normalize(v)
}

// Normalize scales a vector to unit length. A zero vector stays zero.
func Normalize(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	mag := float32(math.Sqrt(float64(sum)))
	if mag == 0 {
		return make([]float32, len(v))
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / mag
	}
	return out
}

// EncodeFrame packs a vector as little-endian float32 for BYTEA storage.
func EncodeFrame(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// DecodeFrame unpacks a frame produced by EncodeFrame.
func DecodeFrame(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector frame length %d is not a multiple of 4", len(data))
	}
	v := make([]float32, len(data)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return v, nil
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector sizes do not match: %d vs %d", len(a), len(b))
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB))), nil
}

// VectorLiteral renders a pgvector literal like [0.25,-1,3].
func VectorLiteral(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
