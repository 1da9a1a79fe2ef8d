package remote

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZstdRoundtrip(t *testing.T) {
	payload := bytes.Repeat([]byte(`{"hash":"abc","type":"blob"}`), 200)

	compressed, err := compressZstd(payload)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(payload))

	restored, err := decompressZstd(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, restored)
}

func TestDecompressZstd_RejectsGarbage(t *testing.T) {
	_, err := decompressZstd([]byte("definitely not a zstd frame"))
	assert.Error(t, err)
}

func TestIsZstdEncoded(t *testing.T) {
	assert.True(t, isZstdEncoded("zstd"))
	assert.True(t, isZstdEncoded("gzip, zstd"))
	assert.False(t, isZstdEncoded(""))
	assert.False(t, isZstdEncoded("gzip"))
}
