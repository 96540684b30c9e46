package compression

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ezbuy/mgo-core/internal/wire"
)

func TestNoopCompressorIsIdentity(t *testing.T) {
	payload := []byte("hello mongo")
	var n Noop
	compressed, err := n.Compress(payload)
	require.NoError(t, err)
	out, err := n.Decompress(compressed, int32(len(payload)))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, out))
}

func TestCompressorsRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 50)
	for _, c := range []Compressor{Snappy{}, Zlib{}, Zstd{}} {
		t.Run(c.Name(), func(t *testing.T) {
			compressed, err := c.Compress(payload)
			require.NoError(t, err)
			out, err := c.Decompress(compressed, int32(len(payload)))
			require.NoError(t, err)
			assert.True(t, bytes.Equal(payload, out), "round trip mismatch for %s", c.Name())
		})
	}
}

func TestByIDAndByName(t *testing.T) {
	c, ok := ByID(wire.CompressorZstd)
	require.True(t, ok)
	assert.Equal(t, "zstd", c.Name())

	_, ok = ByID(wire.CompressorID(99))
	assert.False(t, ok)

	c, ok = ByName("snappy")
	require.True(t, ok)
	assert.Equal(t, wire.CompressorSnappy, c.ID())
}

func TestNegotiatePicksFirstClientMatch(t *testing.T) {
	c, ok := Negotiate([]string{"snappy", "zlib"}, []string{"zlib", "zstd"})
	require.True(t, ok)
	assert.Equal(t, "zlib", c.Name())
}

func TestNegotiateNoOverlapDisablesCompression(t *testing.T) {
	_, ok := Negotiate([]string{"snappy"}, []string{"zstd"})
	assert.False(t, ok)
}
