package sqlite

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// float32ArrayToBLOB serializes a vector to little-endian float32 bytes.
func float32ArrayToBLOB(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, errors.New("empty vector")
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// blobToFloat32Array deserializes little-endian float32 bytes to a vector.
func blobToFloat32Array(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, errors.Errorf("invalid vector blob length: %d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : (i+1)*4]))
	}
	return vec, nil
}

// cosineSimilarity calculates the cosine similarity between two vectors.
// The similarity of a zero-norm vector with anything is defined as 0.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct float32
	var normA, normB float32

	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
