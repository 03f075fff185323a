package debugger

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

type teeWriter struct {
	one io.Writer
	two io.Writer
}

// TeeWriter duplicates writes across the non-nil writers, closing those that are closers.
func TeeWriter(writers ...io.Writer) io.WriteCloser {
	var last io.Writer
	for _, w := range writers {
		if w == nil {
			continue
		} else if last == nil {
			last = w
		} else {
			last = &teeWriter{one: last, two: w}
		}
	}
	if last == nil {
		last = io.Discard
	}

	if wc, ok := last.(io.WriteCloser); ok {
		return wc
	}
	return &teeWriter{one: last, two: io.Discard} // wrap to get the close interface
}

func (w *teeWriter) Write(p []byte) (int, error) {
	n1, err1 := w.one.Write(p)
	n2, err2 := w.two.Write(p)
	if err1 == nil && err2 == nil && n1 != n2 {
		return 0, fmt.Errorf("uneven write %d != %d", n1, n2)
	}
	return n1, errors.Join(err1, err2)
}

func (w *teeWriter) Close() error {
	var err1, err2 error
	if v, ok := w.one.(io.WriteCloser); ok {
		err1 = v.Close()
	}
	if v, ok := w.two.(io.WriteCloser); ok {
		err2 = v.Close()
	}
	return errors.Join(err1, err2)
}

// LockedBuffer is a buffer safe for concurrent writers, used to collect session output.
type LockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *LockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return lb.buf.Write(p)
}

func (lb *LockedBuffer) Bytes() []byte {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return bytes.Clone(lb.buf.Bytes())
}

func (lb *LockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return lb.buf.String()
}

func (lb *LockedBuffer) Len() int {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	return lb.buf.Len()
}

func (lb *LockedBuffer) Reset() {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	lb.buf.Reset()
}
