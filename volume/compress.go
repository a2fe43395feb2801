package volume

import (
	"github.com/klauspost/compress/zstd"

	sealedfs "github.com/kenneth/sealedfs"
)

// zstdEncoder/zstdDecoder are process-wide: both are safe for concurrent
// use and expensive enough to construct that every Volume with
// compression enabled shares the same pair rather than building its own.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// compressFrame is the optional sidecar compression stream applied to a
// frame's plaintext before it is AEAD-sealed, when the volume's Compress
// flag is set.
func compressFrame(plain []byte) []byte {
	return zstdEncoder.EncodeAll(plain, make([]byte, 0, len(plain)))
}

func decompressFrame(compressed []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindCorrupted, "volume.decompressFrame", err)
	}
	return out, nil
}
