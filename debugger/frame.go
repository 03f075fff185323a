package debugger

import (
	"github.com/mtraver/base91"
	"github.com/vmihailenco/msgpack/v5"
)

// Frame flag bytes. A zero first byte marks an empty segment.
const (
	frameMsgpack byte = 'm'
	frameSnappy  byte = 's'
)

// encodeFrame serializes v as a flag byte followed by the base91 text of its msgpack body,
// snappy compressed when the body reaches threshold bytes. The result never contains a zero byte.
func encodeFrame(v any, threshold int) ([]byte, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, newError(KindSerialization, "encode frame", "", err)
	}
	flag := frameMsgpack
	if threshold > 0 && len(body) >= threshold {
		if compressed := SnappyCompress(nil, body); len(compressed) < len(body) {
			flag, body = frameSnappy, compressed
		}
	}
	text := base91.StdEncoding.EncodeToString(body)
	frame := make([]byte, 0, len(text)+1)
	frame = append(frame, flag)
	return append(frame, text...), nil
}

// decodeFrame reverses encodeFrame into v.
func decodeFrame(frame []byte, v any) error {
	if len(frame) == 0 {
		return newError(KindSerialization, "decode frame", "empty frame", nil)
	}
	body, err := base91.StdEncoding.DecodeString(string(frame[1:]))
	if err != nil {
		return newError(KindSerialization, "decode frame", "", err)
	}
	switch frame[0] {
	case frameMsgpack:
	case frameSnappy:
		if body, err = SnappyDecompress(nil, body); err != nil {
			return newError(KindSerialization, "decode frame", "", err)
		}
	default:
		return newError(KindSerialization, "decode frame", "unknown flag "+string(frame[:1]), nil)
	}
	if err := msgpack.Unmarshal(body, v); err != nil {
		return newError(KindSerialization, "decode frame", "", err)
	}
	return nil
}
