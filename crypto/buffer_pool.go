package crypto

import "sync"

// BufferPool recycles the fixed-size byte slices the volume layer churns
// through constantly: per-block scratch, AEAD nonces, and whole-frame
// staging buffers. Adapted from the gateway's BufferPool; sized for this
// module's own constants (BLK_SIZE/FRAME_SIZE) rather than S3 chunk sizes.
type BufferPool struct {
	small  sync.Pool // nonce / key-sized scratch (<=32 bytes)
	block  sync.Pool // BLK_SIZE buffers
	frame  sync.Pool // FRAME_SIZE buffers

	blockSize, frameSize int
}

// NewBufferPool creates a pool sized for the given block/frame sizes.
func NewBufferPool(blockSize, frameSize int) *BufferPool {
	p := &BufferPool{blockSize: blockSize, frameSize: frameSize}
	p.small.New = func() any { return make([]byte, 0, 32) }
	p.block.New = func() any { return make([]byte, 0, blockSize) }
	p.frame.New = func() any { return make([]byte, 0, frameSize) }
	return p
}

// GetSmall returns a zero-length, >=32-cap scratch buffer.
func (p *BufferPool) GetSmall() []byte { return p.small.Get().([]byte)[:0] }

// PutSmall returns a scratch buffer to the pool after zeroing it.
func (p *BufferPool) PutSmall(b []byte) {
	zero(b)
	p.small.Put(b[:0])
}

// GetBlock returns a zero-length buffer with at least block-size capacity.
func (p *BufferPool) GetBlock() []byte { return p.block.Get().([]byte)[:0] }

// PutBlock returns a block buffer to the pool after zeroing it.
func (p *BufferPool) PutBlock(b []byte) {
	zero(b)
	p.block.Put(b[:0])
}

// GetFrame returns a zero-length buffer with at least frame-size capacity.
func (p *BufferPool) GetFrame() []byte { return p.frame.Get().([]byte)[:0] }

// PutFrame returns a frame buffer to the pool after zeroing it.
func (p *BufferPool) PutFrame(b []byte) {
	zero(b)
	p.frame.Put(b[:0])
}

func zero(b []byte) {
	full := b[:cap(b)]
	for i := range full {
		full[i] = 0
	}
}
