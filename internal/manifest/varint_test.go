package manifest

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUvarint_RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 127, 128, 255, 256, 16384, math.MaxUint32, math.MaxUint64}
	for _, v := range values {
		buf := appendUvarint(nil, v)
		got, n, err := uvarint(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}
}

func TestUvarint_RoundTrip_Random(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		v := r.Uint64()
		buf := appendUvarint(nil, v)
		got, n, err := uvarint(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}
}

func TestUvarint_TruncatedIsError(t *testing.T) {
	buf := appendUvarint(nil, 1<<40)
	_, _, err := uvarint(buf[:len(buf)-1])
	assert.Error(t, err)
}

func TestString_RoundTrip(t *testing.T) {
	for _, s := range []string{"", "a", "disk1/path/to/file.bin", string(make([]byte, 300))} {
		buf := appendString(nil, s)
		got, n, err := readString(buf)
		require.NoError(t, err)
		assert.Equal(t, s, got)
		assert.Equal(t, len(buf), n)
	}
}
