package pool

import (
	"testing"
)

func TestConfigure(t *testing.T) {
	orig := globalConfig
	defer func() { Configure(orig) }()

	Configure(Config{Enabled: true, MaxSize: 500})
	if !IsEnabled() {
		t.Fatal("expected pooling enabled")
	}

	Configure(Config{Enabled: false, MaxSize: 500})
	if IsEnabled() {
		t.Fatal("expected pooling disabled")
	}
}

func TestGetPutByteBuffer(t *testing.T) {
	orig := globalConfig
	defer func() { Configure(orig) }()
	Configure(Config{Enabled: true, MaxSize: 1024})

	buf := GetByteBuffer()
	if len(buf) != 0 {
		t.Fatalf("expected zero-length buffer, got len %d", len(buf))
	}
	buf = append(buf, []byte("hello")...)
	PutByteBuffer(buf)

	buf2 := GetByteBuffer()
	if len(buf2) != 0 {
		t.Fatalf("expected zero-length buffer from pool, got len %d", len(buf2))
	}
}

func TestPutByteBufferDropsOversize(t *testing.T) {
	orig := globalConfig
	defer func() { Configure(orig) }()
	Configure(Config{Enabled: true, MaxSize: 8})

	big := make([]byte, 0, 1024)
	// Should not panic and should simply decline to pool it.
	PutByteBuffer(big)
}

func TestDisabledPoolingAllocatesFresh(t *testing.T) {
	orig := globalConfig
	defer func() { Configure(orig) }()
	Configure(Config{Enabled: false})

	buf := GetByteBuffer()
	buf = append(buf, 1, 2, 3)
	PutByteBuffer(buf) // no-op while disabled

	buf2 := GetByteBuffer()
	if len(buf2) != 0 {
		t.Fatalf("expected fresh zero-length buffer, got len %d", len(buf2))
	}
}
