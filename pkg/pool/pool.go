// Package pool provides byte-buffer pooling for txbtree to reduce
// allocations when the Block File persists a block: blockfile's persist
// builds each checksum+payload buffer in a pooled buffer. Node encoding
// and decoding allocate their own buffers.
//
// Adapted from NornicDB's general-purpose object pooling package, trimmed
// to the one pool this core actually exercises.
//
// Usage:
//
//	buf := pool.GetByteBuffer()
//	defer pool.PutByteBuffer(buf)
//	buf = append(buf, encoded...)
package pool

import "sync"

// Config configures pooling behavior.
type Config struct {
	// Enabled controls whether pooling is active.
	Enabled bool
	// MaxSize limits the capacity of a buffer kept in the pool; larger
	// buffers are dropped instead of pooled.
	MaxSize int
}

var globalConfig = Config{
	Enabled: true,
	MaxSize: 1 << 20, // 1MiB
}

// Configure sets global pool configuration. Should be called early during
// initialization.
func Configure(cfg Config) {
	globalConfig = cfg
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return globalConfig.Enabled
}

var byteBufferPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 1024)
	},
}

// GetByteBuffer returns a zero-length byte buffer from the pool.
func GetByteBuffer() []byte {
	if !globalConfig.Enabled {
		return make([]byte, 0, 1024)
	}
	return byteBufferPool.Get().([]byte)[:0]
}

// PutByteBuffer returns a byte buffer to the pool. Oversize buffers are
// dropped rather than pooled, to avoid pinning large allocations.
func PutByteBuffer(buf []byte) {
	if !globalConfig.Enabled {
		return
	}
	if cap(buf) > globalConfig.MaxSize {
		return
	}
	byteBufferPool.Put(buf[:0])
}
