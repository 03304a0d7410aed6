package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

const (
	// headerSize is shard id, request id and payload length
	headerSize = 8 + 8 + 4

	// MaxFrameSize bounds the payload of a single frame
	MaxFrameSize = 64 << 20
)

// writeFrame writes one frame:
//
//	shardID   uint64, big endian
//	requestID uint64, big endian
//	length    uint32, big endian
//	payload   length bytes
func writeFrame(conn net.Conn, shardID, requestID uint64, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", len(data), MaxFrameSize)
	}
	var header [headerSize]byte
	binary.BigEndian.PutUint64(header[:8], shardID)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	binary.BigEndian.PutUint32(header[16:], uint32(len(data)))

	b := net.Buffers{header[:], data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads one frame. The payload is read into buf if it fits,
// otherwise into a new slice.
func readFrame(r io.Reader, buf []byte) (shardID, requestID uint64, data []byte, err error) {
	var header [headerSize]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return 0, 0, nil, err
	}
	shardID = binary.BigEndian.Uint64(header[:8])
	requestID = binary.BigEndian.Uint64(header[8:16])
	length := binary.BigEndian.Uint32(header[16:])

	if length > MaxFrameSize {
		return 0, 0, nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", length, MaxFrameSize)
	}
	if int(length) > len(buf) {
		buf = make([]byte, length)
	}
	data = buf[:length]
	if _, err = io.ReadFull(r, data); err != nil {
		return 0, 0, nil, err
	}
	return shardID, requestID, data, nil
}
