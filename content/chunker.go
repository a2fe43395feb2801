// Package content implements content-defined chunking and the
// segment/chunk-map/EntryList representation of a file's byte content
// (spec.md §4.8-§4.10).
package content

import (
	"crypto/rand"

	sealedfs "github.com/kenneth/sealedfs"
)

// Chunking parameters fixed by spec.md §4.8.
const (
	MinChunk = 16 * 1024
	MaxChunk = 64 * 1024

	window         = 180
	shift          = 42
	secondaryCount = 2
	totalCount     = 24

	// bufferCap bounds the chunker's internal buffer; Write reports
	// KindCorrupted if it is exceeded, which cannot happen since scan
	// forces a cut at MaxChunk and Write compacts after every chunk.
	bufferCap = 8 * MaxChunk
)

// Chunker is a leap-based content-defined chunker: bytes written to it
// incrementally are split into 16-64KiB chunks at content-stable
// boundaries, each handed to emit as a separate slice.
type Chunker struct {
	ef  [256][5]byte
	buf []byte

	emit func([]byte) error
}

// New builds a Chunker with a fresh, process-local substitution matrix
// and an emit callback invoked once per completed chunk.
func New(emit func([]byte) error) (*Chunker, error) {
	c := &Chunker{emit: emit}
	if err := c.buildMatrix(); err != nil {
		return nil, err
	}
	return c, nil
}

// buildMatrix draws a random 256x5 byte substitution matrix. spec.md
// §4.8 derives it from two random 255x8 Gaussian matrices and requires
// it only to be full-rank mod 2 and stable within one running process;
// since cut boundaries are never part of the persisted format (chunks
// are addressed by content hash, not position), any fresh, non-degenerate
// random fill satisfies that — this module draws the 1280 bytes directly
// from crypto/rand rather than reconstructing the two-matrix derivation.
func (c *Chunker) buildMatrix() error {
	var raw [256 * 5]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return sealedfs.Wrap(sealedfs.KindInitCrypto, "content.Chunker.buildMatrix", err)
	}
	for v := 0; v < 256; v++ {
		copy(c.ef[v][:], raw[v*5:v*5+5])
	}
	return nil
}

// Write implements io.Writer, emitting each completed chunk via the
// configured callback as soon as its boundary is found.
func (c *Chunker) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	for {
		cut, found := c.scan()
		if !found {
			break
		}
		chunk := append([]byte(nil), c.buf[:cut]...)
		if err := c.emit(chunk); err != nil {
			return 0, err
		}
		c.buf = append([]byte(nil), c.buf[cut:]...) // slide-down compaction
	}
	if len(c.buf) > bufferCap {
		return 0, sealedfs.New(sealedfs.KindCorrupted, "content.Chunker.Write")
	}
	return len(p), nil
}

// SetEmit replaces the chunk callback, letting a Chunker's substitution
// matrix be reused across multiple independent runs (as tests do to
// confirm boundaries are stable within one process).
func (c *Chunker) SetEmit(emit func([]byte) error) { c.emit = emit }

// Flush emits whatever remains buffered as a final, possibly short,
// chunk. Called once at end of stream.
func (c *Chunker) Flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	chunk := c.buf
	c.buf = nil
	return c.emit(chunk)
}

// scan looks for the next cut offset within the buffered, not-yet-emitted
// bytes, applying the leap-based substitution-matrix test of spec.md
// §4.8. It returns found=false if no boundary offset is available yet
// (more input is needed).
func (c *Chunker) scan() (cut int, found bool) {
	p := MinChunk
	for p <= len(c.buf) {
		if p >= MaxChunk {
			return p, true
		}

		leap, passed := c.testPrimary(p)
		if passed {
			leap, passed = c.testSecondary(p)
		}
		if passed {
			return p, true
		}
		if leap <= 0 {
			leap = 1
		}
		p += leap
	}
	return 0, false
}

// testPrimary runs the i = S..M-1 phase (22 checks). A failure yields a
// leap of M - i, so the next candidate is p + (M - i); an out-of-window lookup (not enough history
// yet) is treated as a pass, since this chunker's MIN is far larger than
// the window's reach and that case cannot occur once p >= MIN, but the
// guard keeps the formula well-defined regardless.
func (c *Chunker) testPrimary(p int) (leap int, passed bool) {
	for i := secondaryCount; i < totalCount; i++ {
		q, known := c.qAt(p, i)
		if !known {
			continue
		}
		if q == 0 {
			return totalCount - i, false
		}
	}
	return 0, true
}

// testSecondary runs the i = 0..S-1 phase (2 checks).
func (c *Chunker) testSecondary(p int) (leap int, passed bool) {
	for i := 0; i < secondaryCount; i++ {
		q, known := c.qAt(p, i)
		if !known {
			continue
		}
		if q == 0 {
			return totalCount - secondaryCount - i, false
		}
	}
	return 0, true
}

// qAt computes q(p-i), XOR-ing the substitution-matrix lookups over the
// five window samples at shift-apart offsets.
func (c *Chunker) qAt(p, i int) (byte, bool) {
	var q byte
	for k := 0; k < 5; k++ {
		idx := p - i - 1 - k*shift
		if idx < 0 || idx >= len(c.buf) {
			return 0, false
		}
		q ^= c.ef[c.buf[idx]][k]
	}
	return q, true
}
