// Package encoding provides pooled JSON encoding for response
// serialization on the hot operator endpoints.
package encoding

import (
	"bytes"
	"encoding/json"
	"sync"
)

// BufferPool pools bytes.Buffer for JSON encoding
var BufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

// GetBuffer retrieves an empty bytes.Buffer from the pool
func GetBuffer() *bytes.Buffer {
	buf := BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer returns a bytes.Buffer to the pool. Buffers that grew past
// 64KB are dropped so outlier responses do not pin memory.
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() > 64*1024 {
		return
	}
	buf.Reset()
	BufferPool.Put(buf)
}

// EncodeJSON encodes v to JSON using a pooled buffer
func EncodeJSON(v interface{}) ([]byte, error) {
	buf := GetBuffer()
	defer PutBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}

	// Copy out before the buffer returns to the pool
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
