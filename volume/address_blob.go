package volume

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

// WriteAddressBlob AEAD-encrypts an arbitrary small payload and stores it
// under id in the backend's address slot. Used for entities that are not
// file content (armor arms: Cow wrappers, Wal records, the WalQueue
// itself) rather than a volume.Address span list — the two uses never
// collide because armor always derives id via a Left/Right hash of the
// entity's own EID, distinct from any file content EID.
func (v *Volume) WriteAddressBlob(ctx context.Context, id eid.ID, data []byte) error {
	ct, err := crypto.Encrypt(v.Cipher(), data, nil, v.StorageKey())
	if err != nil {
		return sealedfs.Wrap(sealedfs.KindEncrypt, "volume.WriteAddressBlob", err)
	}
	return storage.WrapIO("volume.WriteAddressBlob", v.backend.PutAddress(ctx, id, ct))
}

// ReadAddressBlob loads and decrypts a blob written with WriteAddressBlob.
func (v *Volume) ReadAddressBlob(ctx context.Context, id eid.ID) ([]byte, error) {
	ct, err := v.backend.GetAddress(ctx, id)
	if err != nil {
		return nil, err // callers special-case sealedfs.KindNotFound
	}
	pt, err := crypto.Decrypt(v.Cipher(), ct, nil, v.StorageKey())
	if err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindDecrypt, "volume.ReadAddressBlob", err)
	}
	return pt, nil
}

// DeleteAddressBlob removes a blob written with WriteAddressBlob.
func (v *Volume) DeleteAddressBlob(ctx context.Context, id eid.ID) error {
	return storage.WrapIO("volume.DeleteAddressBlob", v.backend.DelAddress(ctx, id))
}
