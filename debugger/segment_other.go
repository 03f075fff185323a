//go:build !unix

package debugger

import (
	"errors"
	"os"
	"runtime"
)

func mapSegment(*os.File, int) ([]byte, error) {
	return nil, errors.New("shared segments are not supported on " + runtime.GOOS)
}

func unmapSegment([]byte) error {
	return nil
}
