package debugger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
)

// Segment file name prefixes, completed with the target pid.
const (
	messageSegmentPrefix  = "dbug_message_"
	responseSegmentPrefix = "dbug_response_"
)

// SegmentPaths returns the message (target to controller) and response (controller to target)
// segment paths for a target pid.
func SegmentPaths(dir string, pid int) (message, response string) {
	if dir == "" {
		dir = os.TempDir()
	}
	id := strconv.Itoa(pid)
	return filepath.Join(dir, messageSegmentPrefix+id), filepath.Join(dir, responseSegmentPrefix+id)
}

// segment is a fixed size file mapped shared between the target and controller. It holds at most
// one frame followed by a zero terminator. The first byte is written last and cleared first, so a
// non-zero first byte together with a terminator marks a complete frame.
type segment struct {
	path string
	file *os.File
	data []byte
}

// createSegment creates (or truncates) the file at path and maps size bytes of it.
func createSegment(path string, size int) (*segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, newError(KindIO, "create segment", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, newError(KindIO, "create segment", path, err)
	}
	data, err := mapSegment(f, size)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, newError(KindIO, "map segment", path, err)
	}
	return &segment{path: path, file: f, data: data}, nil
}

// openSegment maps an existing segment file created by the other side.
func openSegment(path string) (*segment, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, newError(KindIO, "open segment", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, newError(KindIO, "open segment", path, err)
	} else if info.Size() < 2 {
		_ = f.Close()
		return nil, newError(KindIO, "open segment", path+" is not initialized", nil)
	}
	data, err := mapSegment(f, int(info.Size()))
	if err != nil {
		_ = f.Close()
		return nil, newError(KindIO, "map segment", path, err)
	}
	return &segment{path: path, file: f, data: data}, nil
}

func (s *segment) size() int {
	return len(s.data)
}

// empty reports whether the segment holds no frame.
func (s *segment) empty() bool {
	return s.data[0] == 0
}

// write stores frame followed by the terminator, overwriting any previous frame.
func (s *segment) write(frame []byte) error {
	if len(frame) == 0 {
		return nil
	} else if len(frame)+1 > len(s.data) {
		return ErrPayloadTooLarge.WithOp("write segment")
	}
	s.clear()
	copy(s.data[1:], frame[1:])
	s.data[len(frame)] = 0
	s.data[0] = frame[0]
	return nil
}

// read returns a copy of the complete frame in the segment, if any. The segment is left as is.
func (s *segment) read() ([]byte, bool) {
	if s.data[0] == 0 {
		return nil, false
	}
	end := bytes.IndexByte(s.data, 0)
	if end < 0 {
		return nil, false
	}
	return bytes.Clone(s.data[:end]), true
}

// clear marks the segment empty and zeroes the previous frame.
func (s *segment) clear() {
	s.data[0] = 0
	clear(s.data[1:])
}

// close unmaps the segment and optionally removes its file.
func (s *segment) close(remove bool) error {
	var errs []error
	if s.data != nil {
		errs = append(errs, unmapSegment(s.data))
		s.data = nil
	}
	errs = append(errs, s.file.Close())
	if remove {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
