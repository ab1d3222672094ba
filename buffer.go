package ws

import "github.com/gobwas/pool/pbytes"

// DefaultBufferLength is the recommended size of receive and scratch
// buffers.
const DefaultBufferLength = 16 * 1024

// Buffer is a growable byte sink frames are encoded into before hitting the
// wire. TryGetView exposes the accumulated bytes without copying when the
// implementation can; Bytes is the materialize-to-owned fallback.
type Buffer interface {
	Write(p []byte) (int, error)
	Len() int
	TryGetView() ([]byte, bool)
	Bytes() []byte
}

// BufferPool produces scratch Buffers. Pools may be shared across any number
// of connections; every Get is paired with a Put on all exit paths.
type BufferPool interface {
	Get() Buffer
	Put(Buffer)
}

// pooledBuffer is the default Buffer backed by a pbytes slice.
type pooledBuffer struct {
	p []byte
}

func (b *pooledBuffer) Write(p []byte) (int, error) {
	b.p = append(b.p, p...)
	return len(p), nil
}

func (b *pooledBuffer) Len() int { return len(b.p) }

func (b *pooledBuffer) TryGetView() ([]byte, bool) { return b.p, true }

func (b *pooledBuffer) Bytes() []byte {
	out := make([]byte, len(b.p))
	copy(out, b.p)
	return out
}

// pbytesPool recycles buffer backing arrays through the gobwas/pool byte
// pool, so frame encoding does not allocate per call on the hot path.
type pbytesPool struct {
	size int
}

// NewBufferPool creates a BufferPool whose buffers start with capacity for
// size bytes. Zero or negative size means DefaultBufferLength.
func NewBufferPool(size int) BufferPool {
	if size <= 0 {
		size = DefaultBufferLength
	}
	return &pbytesPool{size: size}
}

func (p *pbytesPool) Get() Buffer {
	return &pooledBuffer{p: pbytes.Get(0, p.size)}
}

func (p *pbytesPool) Put(b Buffer) {
	if pb, ok := b.(*pooledBuffer); ok {
		pbytes.Put(pb.p)
		pb.p = nil
	}
}

var defaultBufferPool = NewBufferPool(DefaultBufferLength)
