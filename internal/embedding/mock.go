package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

const (
	MockModelName    = "mock-hash-embedding"
	MockModelVersion = "v1"
)

// MockClient constructs a deterministic pseudo-vector from a cryptographic
// hash of the text, per the collaborator contract in spec.md §6.3. Useful
// for tests and for running the core with no network adapter configured.
type MockClient struct {
	dims int
}

func NewMockClient(dims int) *MockClient {
	if dims <= 0 {
		dims = 32
	}
	return &MockClient{dims: dims}
}

func (c *MockClient) Dimensions() int      { return c.dims }
func (c *MockClient) ModelName() string    { return MockModelName }
func (c *MockClient) ModelVersion() string { return MockModelVersion }

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, c.dims)
	seed := []byte(text)
	counter := uint32(0)
	for i := 0; i < c.dims; i++ {
		if i%8 == 0 {
			h := sha256.New()
			h.Write(seed)
			var ctrBuf [4]byte
			binary.BigEndian.PutUint32(ctrBuf[:], counter)
			h.Write(ctrBuf[:])
			counter++
			sum := h.Sum(nil)
			seed = sum
		}
		b := seed[(i%8)*4 : (i%8)*4+4]
		v := binary.BigEndian.Uint32(b)
		// Map to [-1, 1).
		vec[i] = float32(int32(v))/float32(1<<31)
	}
	return Normalize(vec), nil
}

func (c *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
