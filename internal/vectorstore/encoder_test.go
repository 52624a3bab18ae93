package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDegradedIsDeterministic(t *testing.T) {
	enc := NewEncoder("all-MiniLM-L6-v2", "", 16, nil)

	first, err := enc.Encode(context.Background(), []string{"solar panels", "solar panels", "wind turbines"})
	require.NoError(t, err)
	require.Len(t, first, 3)
	for _, v := range first {
		assert.Len(t, v, 16)
	}
	assert.Equal(t, first[0], first[1], "same text must produce the same vector")
	assert.NotEqual(t, first[0], first[2], "different text must produce a different vector")

	second, err := enc.Encode(context.Background(), []string{"solar panels"})
	require.NoError(t, err)
	assert.Equal(t, first[0], second[0], "vectors are stable across calls")
}

func TestEncodeDegradedUnitLength(t *testing.T) {
	enc := NewEncoder("m", "", 32, nil)
	vecs, err := enc.Encode(context.Background(), []string{"anything"})
	require.NoError(t, err)

	var sum float64
	for _, x := range vecs[0] {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestEncodeEmptyInput(t *testing.T) {
	enc := NewEncoder("m", "", 8, nil)
	vecs, err := enc.Encode(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestDimDefault(t *testing.T) {
	assert.Equal(t, 768, NewEncoder("m", "", 0, nil).Dim())
	assert.Equal(t, 128, NewEncoder("m", "", 128, nil).Dim())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float32{0.6, 0.8}, Normalize([]float32{3, 4}))
	assert.Equal(t, []float32{0, 0, 0}, Normalize([]float32{0, 0, 0}))
	assert.Empty(t, Normalize([]float32{}))
}

func TestFrameRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3, 0}
	frame := EncodeFrame(in)
	assert.Len(t, frame, 16)

	out, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = DecodeFrame(frame[:7])
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	same, err := CosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, same, 1e-6)

	orth, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, orth, 1e-6)

	zero, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	require.NoError(t, err)
	assert.Equal(t, float32(0), zero)

	_, err = CosineSimilarity([]float32{1}, []float32{1, 2})
	assert.Error(t, err)
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.5,-1.25,2]", VectorLiteral([]float32{0.5, -1.25, 2}))
	assert.Equal(t, "[]", VectorLiteral(nil))
}
