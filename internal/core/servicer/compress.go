package servicer

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// maxDecompressedSize 解压后载荷上限
const maxDecompressedSize = 64 << 20

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func initZstd() {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressedSize))
	})
}

func compress(data []byte) ([]byte, error) {
	initZstd()
	if zstdErr != nil {
		return nil, zstdErr
	}
	return zstdEncoder.EncodeAll(data, nil), nil
}

func decompress(data []byte) ([]byte, error) {
	initZstd()
	if zstdErr != nil {
		return nil, zstdErr
	}
	return zstdDecoder.DecodeAll(data, nil)
}
