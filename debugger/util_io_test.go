package debugger

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct {
	err error
}

func (w failingWriter) Write([]byte) (int, error) {
	return 0, w.err
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) {
	return len(p) / 2, nil
}

type closeRecorder struct {
	bytes.Buffer
	closed bool
	err    error
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return c.err
}

func TestTeeWriter(t *testing.T) {
	t.Parallel()

	t.Run("duplicates_writes", func(t *testing.T) {
		var a, b, c bytes.Buffer
		w := TeeWriter(&a, nil, &b, &c)
		n, err := w.Write([]byte("event\n"))
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		for _, buf := range []*bytes.Buffer{&a, &b, &c} {
			assert.Equal(t, "event\n", buf.String())
		}
		assert.NoError(t, w.Close())
	})
	t.Run("all_nil_discards", func(t *testing.T) {
		w := TeeWriter(nil, nil)
		n, err := w.Write([]byte("dropped"))
		require.NoError(t, err)
		assert.Equal(t, 7, n)
		assert.NoError(t, w.Close())
	})
	t.Run("write_error", func(t *testing.T) {
		w := TeeWriter(&bytes.Buffer{}, failingWriter{err: io.ErrClosedPipe})
		_, err := w.Write([]byte("x"))
		assert.ErrorIs(t, err, io.ErrClosedPipe)
	})
	t.Run("uneven_write", func(t *testing.T) {
		w := TeeWriter(&bytes.Buffer{}, shortWriter{})
		n, err := w.Write([]byte("four"))
		assert.Error(t, err)
		assert.Equal(t, 0, n)
	})
}

func TestTeeWriterClose(t *testing.T) {
	t.Parallel()

	t.Run("single_closer_returned", func(t *testing.T) {
		rec := &closeRecorder{}
		w := TeeWriter(nil, rec)
		require.NoError(t, w.Close())
		assert.True(t, rec.closed)
	})
	t.Run("closes_all", func(t *testing.T) {
		one, two := &closeRecorder{}, &closeRecorder{err: errors.New("close failed")}
		w := TeeWriter(one, &bytes.Buffer{}, two)
		assert.ErrorContains(t, w.Close(), "close failed")
		assert.True(t, one.closed)
		assert.True(t, two.closed)
	})
}

func TestLockedBufferConcurrentWrite(t *testing.T) {
	t.Parallel()

	var lb LockedBuffer
	var wg sync.WaitGroup
	const workers = 8
	const loops = 50
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < loops; j++ {
				_, _ = lb.Write([]byte("ab"))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*loops*2, lb.Len())
	assert.Equal(t, strings.Repeat("ab", workers*loops), lb.String())
	data := lb.Bytes()
	data[0] = 'z'
	assert.Equal(t, byte('a'), lb.Bytes()[0])

	lb.Reset()
	assert.Equal(t, 0, lb.Len())
}
