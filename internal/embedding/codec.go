package embedding

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Codec converts between in-memory float32 vectors and the little-endian
// byte layout persisted by the store, the same layout the vector index
// uses for its embedding column.
type Codec struct{}

func (Codec) VectorToBytes(vec []float32) []byte {
	buf := new(bytes.Buffer)
	buf.Grow(len(vec) * 4)
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

func (Codec) BytesToVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding bytes length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(b[i*4 : i*4+4])
		vec[i] = math.Float32frombits(bits)
	}
	return vec, nil
}

// Normalize scales vec to unit length in place and returns it. The
// collaborator contract (spec.md §6.3) requires the returned vector be
// unit-normalized when cosine similarity is used.
func Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		return vec
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
