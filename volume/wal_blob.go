package volume

import (
	"context"

	sealedfs "github.com/kenneth/sealedfs"
	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage"
)

// WriteWalBlob AEAD-encrypts data under the storage key (no frame
// splitting; a WAL entry is always small) and durably stores it under id.
func (v *Volume) WriteWalBlob(ctx context.Context, id eid.ID, data []byte) error {
	ct, err := crypto.Encrypt(v.Cipher(), data, nil, v.StorageKey())
	if err != nil {
		return sealedfs.Wrap(sealedfs.KindEncrypt, "volume.WriteWalBlob", err)
	}
	return storage.WrapIO("volume.WriteWalBlob", v.backend.PutWal(ctx, id, ct))
}

// ReadWalBlob loads and decrypts a WAL blob previously written with
// WriteWalBlob.
func (v *Volume) ReadWalBlob(ctx context.Context, id eid.ID) ([]byte, error) {
	ct, err := v.backend.GetWal(ctx, id)
	if err != nil {
		return nil, err // callers special-case storage.ErrNotFound
	}
	pt, err := crypto.Decrypt(v.Cipher(), ct, nil, v.StorageKey())
	if err != nil {
		return nil, sealedfs.Wrap(sealedfs.KindDecrypt, "volume.ReadWalBlob", err)
	}
	return pt, nil
}

// DeleteWalBlob removes a WAL blob. The backend makes the delete durable
// before DelWal returns.
func (v *Volume) DeleteWalBlob(ctx context.Context, id eid.ID) error {
	return storage.WrapIO("volume.DeleteWalBlob", v.backend.DelWal(ctx, id))
}
