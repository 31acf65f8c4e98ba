package quic

import (
	"bufio"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-meshdht/internal/core/transport"
	pb "github.com/dep2p/go-meshdht/pkg/lib/proto/dht"
)

// writeFrame 写入带 varint 长度前缀的帧
func writeFrame(w io.Writer, f *pb.Frame) (int, error) {
	data := f.Marshal()
	buf := make([]byte, 0, varint.UvarintSize(uint64(len(data)))+len(data))
	buf = append(buf, varint.ToUvarint(uint64(len(data)))...)
	buf = append(buf, data...)
	return w.Write(buf)
}

// readFrame 读取带 varint 长度前缀的帧
func readFrame(r io.Reader, maxSize int) (*pb.Frame, int, error) {
	br := bufio.NewReader(r)
	n, err := varint.ReadUvarint(br)
	if err != nil {
		return nil, 0, err
	}
	if maxSize > 0 && n > uint64(maxSize) {
		return nil, 0, fmt.Errorf("%w: %d > %d", transport.ErrMessageTooLarge, n, maxSize)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, 0, err
	}
	var f pb.Frame
	if err := f.Unmarshal(data); err != nil {
		return nil, 0, err
	}
	return &f, len(data), nil
}
