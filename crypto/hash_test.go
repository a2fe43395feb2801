package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	a := Hash([]byte("content"))
	b := Hash([]byte("content"))
	require.Equal(t, a, b)

	c := Hash([]byte("different"))
	require.NotEqual(t, a, c)
}

func TestHashWithKeyDependsOnKey(t *testing.T) {
	k1, err := RandomKey()
	require.NoError(t, err)
	k2, err := RandomKey()
	require.NoError(t, err)

	h1 := HashWithKey([]byte("chunk"), k1)
	h2 := HashWithKey([]byte("chunk"), k2)
	require.NotEqual(t, h1, h2)
}

func TestHashWriterMatchesOneShot(t *testing.T) {
	data := []byte("streamed in parts")
	w := NewHashWriter()
	_, _ = w.Write(data[:5])
	_, _ = w.Write(data[5:])
	require.Equal(t, Hash(data), w.Sum())
}

func TestKDFIsStableAndDistinctPerSubkey(t *testing.T) {
	master, err := RandomKey()
	require.NoError(t, err)
	defer master.Destroy()

	k1a, err := KDF(master, SubkeyStorage)
	require.NoError(t, err)
	k1b, err := KDF(master, SubkeyStorage)
	require.NoError(t, err)
	require.True(t, k1a.Equal(k1b))

	k2, err := KDF(master, SubkeyIndexLSMT)
	require.NoError(t, err)
	require.False(t, k1a.Equal(k2))
}

func TestRandomBufDeterministicIsReproducible(t *testing.T) {
	a := RandomBufDeterministic(64, 42)
	b := RandomBufDeterministic(64, 42)
	require.Equal(t, a, b)

	c := RandomBufDeterministic(64, 43)
	require.NotEqual(t, a, c)
}

func TestPasswordHashCostPacking(t *testing.T) {
	cost := Cost{Ops: OpsSensitive, Mem: Mem1024MB}
	packed := cost.Pack()

	unpacked, err := UnpackCost(packed)
	require.NoError(t, err)
	require.Equal(t, cost, unpacked)

	_, err = UnpackCost(0xFF)
	require.Error(t, err)
}

func TestHashPwdIsDeterministicForSameSalt(t *testing.T) {
	salt := RandomBufDeterministic(16, 7)
	k1 := HashPwd([]byte("hunter2"), salt, DefaultCost)
	k2 := HashPwd([]byte("hunter2"), salt, DefaultCost)
	require.True(t, k1.Equal(k2))

	k3 := HashPwd([]byte("hunter3"), salt, DefaultCost)
	require.False(t, k1.Equal(k3))
}
