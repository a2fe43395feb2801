package kmip

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sealedfs "github.com/kenneth/sealedfs"
)

func TestDialRejectsEmptyKeyID(t *testing.T) {
	_, err := Dial(context.Background(), Config{Address: "localhost:5696"})
	require.Error(t, err)
	assert.True(t, sealedfs.Is(err, sealedfs.KindInvalidArgument))
}

func TestDialRejectsUnreachableServer(t *testing.T) {
	_, err := Dial(context.Background(), Config{
		Address: "127.0.0.1:1",
		KeyID:   "test-key",
	})
	require.Error(t, err)
	assert.True(t, sealedfs.Is(err, sealedfs.KindIO))
}

func TestProviderName(t *testing.T) {
	c := &Client{cfg: Config{KeyID: "test-key"}}
	assert.Equal(t, "kmip", c.Provider())
}
