package volume_test

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/crypto"
	"github.com/kenneth/sealedfs/eid"
	"github.com/kenneth/sealedfs/storage/mem"
	"github.com/kenneth/sealedfs/volume"
)

func newTestVolume(t *testing.T) *volume.Volume {
	t.Helper()
	backend := mem.New()
	ctx := context.Background()
	require.NoError(t, backend.Init(ctx))
	require.NoError(t, backend.Open(ctx, false))

	key, err := crypto.RandomKey()
	require.NoError(t, err)
	return volume.New(backend, crypto.CipherXChaCha20Poly1305, key, nil)
}

func TestWriterReaderRoundTrip(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()
	id := mustEID(t)

	payload := make([]byte, 3*volume.DecryptedLen(vol.Cipher())+123)
	for i := range payload {
		payload[i] = byte(i)
	}

	w := volume.NewWriter(vol, id)
	n, err := w.Write(payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	addr, err := w.Finish(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), addr.Len)

	r, err := volume.NewReader(ctx, vol, id)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)), r.Len())

	got := make([]byte, len(payload))
	total := 0
	for total < len(got) {
		n, err := r.Read(got[total:])
		total += n
		if err != nil {
			break
		}
	}
	require.Equal(t, payload, got)
}

func TestReaderSeek(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()
	id := mustEID(t)

	payload := make([]byte, 2*volume.DecryptedLen(vol.Cipher()))
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	w := volume.NewWriter(vol, id)
	_, err := w.Write(payload)
	require.NoError(t, err)
	_, err = w.Finish(ctx)
	require.NoError(t, err)

	r, err := volume.NewReader(ctx, vol, id)
	require.NoError(t, err)

	at, err := r.Seek(int64(len(payload)-10), 0)
	require.NoError(t, err)
	require.Equal(t, int64(len(payload)-10), at)

	buf := make([]byte, 10)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, payload[len(payload)-10:], buf)

	_, err = r.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestFinishOverwritesPriorAddress(t *testing.T) {
	vol := newTestVolume(t)
	ctx := context.Background()
	id := mustEID(t)

	w1 := volume.NewWriter(vol, id)
	_, err := w1.Write([]byte("version one"))
	require.NoError(t, err)
	_, err = w1.Finish(ctx)
	require.NoError(t, err)

	w2 := volume.NewWriter(vol, id)
	_, err = w2.Write([]byte("version two, now longer"))
	require.NoError(t, err)
	_, err = w2.Finish(ctx)
	require.NoError(t, err)

	r, err := volume.NewReader(ctx, vol, id)
	require.NoError(t, err)
	buf := make([]byte, r.Len())
	_, err = r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "version two, now longer", string(buf))
}

func mustEID(t *testing.T) eid.ID {
	t.Helper()
	id, err := eid.New()
	require.NoError(t, err)
	return id
}
