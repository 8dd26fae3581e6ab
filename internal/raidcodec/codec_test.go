package raidcodec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBuffers(r *rand.Rand, n, size int) [][]byte {
	buffers := make([][]byte, n)
	for i := range buffers {
		buffers[i] = make([]byte, size)
		r.Read(buffers[i])
	}
	return buffers
}

func TestGenThenRec_EmptyFailedMap_IsNoop(t *testing.T) {
	c, err := New(4, 2)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(1))
	buffers := randomBuffers(r, 6, 64)
	before := make([][]byte, len(buffers))
	for i, b := range buffers {
		before[i] = append([]byte(nil), b...)
	}

	require.NoError(t, c.Gen(64, buffers))
	require.NoError(t, c.Rec(map[int]bool{}, 64, buffers))

	for i := range buffers {
		assert.Equal(t, before[i], buffers[i], "round trip with no failures must not mutate buffers")
	}
}

func TestRec_RecoversFromDataLoss(t *testing.T) {
	c, err := New(4, 2)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(2))
	buffers := randomBuffers(r, 6, 128)
	original := make([][]byte, len(buffers))
	for i, b := range buffers {
		original[i] = append([]byte(nil), b...)
	}

	require.NoError(t, c.Gen(128, buffers))

	lost := map[int]bool{0: true, 2: true}
	corrupted := make([][]byte, len(buffers))
	for i, b := range buffers {
		corrupted[i] = append([]byte(nil), b...)
	}
	corrupted[0] = make([]byte, 128)
	corrupted[2] = make([]byte, 128)

	require.NoError(t, c.Rec(lost, 128, corrupted))

	assert.True(t, bytes.Equal(original[0], corrupted[0]))
	assert.True(t, bytes.Equal(original[2], corrupted[2]))
}

func TestRec_TooManyFailuresIsUnrecoverable(t *testing.T) {
	c, err := New(4, 2)
	require.NoError(t, err)

	r := rand.New(rand.NewSource(3))
	buffers := randomBuffers(r, 6, 32)
	require.NoError(t, c.Gen(32, buffers))

	err = c.Rec(map[int]bool{0: true, 1: true, 2: true}, 32, buffers)
	assert.Error(t, err)
}

func TestNew_RejectsNonPositiveShapes(t *testing.T) {
	_, err := New(0, 2)
	assert.Error(t, err)
	_, err = New(4, 0)
	assert.Error(t, err)
}
