package debugger

import (
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdInitErr error
)

// zstdCodec returns the shared encoder and decoder, both safe for concurrent EncodeAll/DecodeAll.
func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedBetterCompression), zstd.WithEncoderConcurrency(1))
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	})
	return zstdEncoder, zstdDecoder, zstdInitErr
}

// ZstdCompress appends the zstd compression of data to dst, used for archived records.
func ZstdCompress(dst, data []byte) ([]byte, error) {
	enc, _, err := zstdCodec()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, dst), nil
}

// ZstdDecompress appends the decompression of data to dst.
func ZstdDecompress(dst, data []byte) ([]byte, error) {
	_, dec, err := zstdCodec()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data, dst)
}

// SnappyCompress returns the snappy block encoding of a wire frame body, reusing dst when it is
// large enough.
func SnappyCompress(dst, data []byte) []byte {
	return s2.EncodeSnappy(dst, data)
}

// SnappyDecompress reverses SnappyCompress.
func SnappyDecompress(dst, data []byte) ([]byte, error) {
	return snappy.Decode(dst, data)
}
