package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kenneth/sealedfs/config"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, config.Default().Validate())
}

func TestParseAppliesOverridesOverDefaults(t *testing.T) {
	doc := []byte(`{
		// trailing commas and comments are fine, this is HuJSON
		"uri": "file:///tmp/repo",
		"default_version_limit": 4,
		"chunker_matrix_seed": 42,
	}`)
	opts, err := config.Parse(doc)
	require.NoError(t, err)
	require.Equal(t, "file:///tmp/repo", opts.URI)
	require.EqualValues(t, 4, opts.DefaultVersionLimit)
	require.EqualValues(t, 42, opts.ChunkerMatrixSeed)
	require.Equal(t, config.Default().Cipher, opts.Cipher) // untouched field keeps its default
}

func TestParseRejectsZeroVersionLimit(t *testing.T) {
	_, err := config.Parse([]byte(`{"default_version_limit": 0}`))
	require.Error(t, err)
}

func TestParseRejectsEmptyURI(t *testing.T) {
	_, err := config.Parse([]byte(`{"uri": ""}`))
	require.Error(t, err)
}

func TestParseRejectsMalformedDocument(t *testing.T) {
	_, err := config.Parse([]byte(`{not json`))
	require.Error(t, err)
}
