package ioscheduler

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDisk is an in-memory BlockReader/BlockWriter: block pos maps to a
// byte value pos%251 repeated across the block, so tests can assert
// content without real files.
type fakeDisk struct {
	mu      sync.Mutex
	written map[int64][]byte
	failAt  map[int64]bool
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{written: map[int64][]byte{}, failAt: map[int64]bool{}}
}

func (f *fakeDisk) ReadBlock(pos int64, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt[pos] {
		return fmt.Errorf("fakeDisk: simulated read failure at %d", pos)
	}
	for i := range buf {
		buf[i] = byte(pos % 251)
	}
	return nil
}

func (f *fakeDisk) WriteBlock(pos int64, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(buf))
	copy(cp, buf)
	f.written[pos] = cp
	return nil
}

func newScheduler(t *testing.T, dataCount, parityCount, ioMax, blockSize int) (*Scheduler, []*fakeDisk, []*fakeDisk) {
	t.Helper()
	data := make([]*fakeDisk, dataCount)
	dataReaders := make([]BlockReader, dataCount)
	for i := range data {
		data[i] = newFakeDisk()
		dataReaders[i] = data[i]
	}
	parity := make([]*fakeDisk, parityCount)
	splits := make([]ParitySplit, parityCount)
	for i := range parity {
		parity[i] = newFakeDisk()
		splits[i].Reader = parity[i]
		splits[i].Writer = parity[i]
	}
	return NewScheduler(ioMax, blockSize, dataReaders, splits, nil), data, parity
}

func TestScheduler_ReadsEveryColumnInOrder(t *testing.T) {
	s, data, parity := newScheduler(t, 2, 1, 4, 8)
	_ = data
	_ = parity
	require.NoError(t, s.Start(0, 10))
	defer s.Stop()

	for want := int64(0); want < 10; want++ {
		got, err := s.ReadNext()
		require.NoError(t, err)
		assert.Equal(t, want, got)

		pos, buf, state, err := s.DataRead(0)
		require.NoError(t, err)
		assert.Equal(t, want, pos)
		assert.Equal(t, StateDone, state)
		assert.Equal(t, byte(want%251), buf[0])
	}

	_, err := s.ReadNext()
	assert.ErrorIs(t, err, io.EOF)
}

func TestScheduler_SkipsDisabledPositions(t *testing.T) {
	s, _, _ := newScheduler(t, 1, 1, 4, 4)
	s.enabled = func(pos int64) bool { return pos%2 == 0 }
	require.NoError(t, s.Start(0, 6))
	defer s.Stop()

	for want := int64(0); want < 6; want++ {
		got, err := s.ReadNext()
		require.NoError(t, err)
		assert.Equal(t, want, got)

		_, _, state, err := s.DataRead(0)
		require.NoError(t, err)
		if want%2 == 0 {
			assert.Equal(t, StateDone, state)
		} else {
			assert.Equal(t, StateSkipped, state)
		}
	}
}

func TestScheduler_SurfacesReadErrorAsIOError(t *testing.T) {
	s, data, _ := newScheduler(t, 1, 1, 4, 4)
	data[0].failAt[2] = true
	require.NoError(t, s.Start(0, 5))
	defer s.Stop()

	for want := int64(0); want < 5; want++ {
		_, err := s.ReadNext()
		require.NoError(t, err)

		_, _, state, err := s.DataRead(0)
		if want == 2 {
			assert.Equal(t, StateIOError, state)
			assert.Error(t, err)
		} else {
			assert.Equal(t, StateDone, state)
			assert.NoError(t, err)
		}
	}
}

func TestScheduler_WriteParityBypassesRing(t *testing.T) {
	s, _, parity := newScheduler(t, 1, 1, 4, 4)
	require.NoError(t, s.Start(0, 1))
	defer s.Stop()

	require.NoError(t, s.WriteParity(0, 0, []byte{1, 2, 3, 4}))
	assert.Equal(t, []byte{1, 2, 3, 4}, parity[0].written[0])
}

func TestScheduler_StopReturnsWithUnfetchedResultsInRing(t *testing.T) {
	s, _, _ := newScheduler(t, 1, 0, 2, 4)
	require.NoError(t, s.Start(0, 100))

	_, err := s.ReadNext()
	require.NoError(t, err)
	_, _, _, err = s.DataRead(0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	<-done
}

func TestWorker_RingDepthBoundsLookahead(t *testing.T) {
	reader := newFakeDisk()
	w := NewWorker(0, 2, 4, reader)
	defer w.Stop()

	require.NoError(t, w.Enqueue(0, true))
	require.NoError(t, w.Enqueue(1, true))

	enqueued := make(chan error, 1)
	go func() { enqueued <- w.Enqueue(2, true) }()

	pos, _, state, err := w.Fetch()
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
	assert.Equal(t, StateDone, state)

	require.NoError(t, <-enqueued)
}
