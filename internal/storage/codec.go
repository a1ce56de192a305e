package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeEmbedding serializes a vector as little-endian float32 values.
// A nil or empty vector encodes to nil.
func EncodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding is the inverse of EncodeEmbedding. If dim is positive the
// decoded length must equal it.
func DecodeEmbedding(data []byte, dim int) ([]float32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: embedding blob length %d is not a multiple of 4", ErrInvalidInput, len(data))
	}
	n := len(data) / 4
	if dim > 0 && n != dim {
		return nil, fmt.Errorf("%w: embedding blob has %d values, expected %d", ErrInvalidInput, n, dim)
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
