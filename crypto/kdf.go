package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/hkdf"
)

// well-known subkey indices for KDF (spec.md §6). No package outside
// crypto derives subkeys with them; the volume layer seals under the
// super-block's storage key directly.
const (
	SubkeyStorage      uint64 = 0
	SubkeyIndexLSMT    uint64 = 17
	SubkeyMemTable     uint64 = 18
	SubkeyTabArmor     uint64 = 19
)

// KDF derives a 32-byte subkey from the master key and a 64-bit subkey id,
// using HKDF (extract, then expand) over BLAKE2b so distinct ids are cryptographically
// independent even though the master key is shared.
func KDF(master *Key, subkeyID uint64) (*Key, error) {
	info := make([]byte, 8)
	binary.BigEndian.PutUint64(info, subkeyID)

	reader := hkdf.New(newBlake2bHashFunc(), master.Bytes(), nil, info)
	out := make([]byte, KeySize)
	if _, err := readFull(reader, out); err != nil {
		return nil, err
	}
	return NewKey(out), nil
}

func readFull(r interface{ Read([]byte) (int, error) }, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
