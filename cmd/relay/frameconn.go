package main

import (
	"bufio"
	"fmt"
	"io"
)

const ioBufferSize = 8192

// maxFrameSize guards against a corrupt or hostile length prefix forcing an
// unbounded allocation before the payload has even been read.
const maxFrameSize = 16 << 20 // 16 MiB

// frameConn wraps a connection with buffered, length-prefixed frame
// read/write and meters bytes in both directions.
// Not thread-safe: designed for single-goroutine usage.
type frameConn struct {
	*bufio.ReadWriter
	bytesRead    uint64
	bytesWritten uint64
}

func newFrameConn(rw io.ReadWriter) *frameConn {
	return &frameConn{
		ReadWriter: bufio.NewReadWriter(
			bufio.NewReaderSize(rw, ioBufferSize),
			bufio.NewWriterSize(rw, ioBufferSize),
		),
	}
}

func (fc *frameConn) readUint32BE() (uint32, error) {
	var b [4]byte
	n, err := io.ReadFull(fc.Reader, b[:])
	fc.bytesRead += uint64(n)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), nil
}

func (fc *frameConn) writeUint32BE(v uint32) error {
	b := [4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	n, err := fc.Writer.Write(b[:])
	fc.bytesWritten += uint64(n)
	return err
}

// readFrameLen reads the next frame's length prefix, failing if it exceeds
// maxFrameSize.
func (fc *frameConn) readFrameLen() (uint32, error) {
	n, err := fc.readUint32BE()
	if err != nil {
		return 0, err
	}
	if n > maxFrameSize {
		return 0, fmt.Errorf("frame length %d exceeds maximum %d", n, maxFrameSize)
	}
	return n, nil
}

// readFramePayload reads exactly n bytes of frame payload into dst, which
// must have length >= n.
func (fc *frameConn) readFramePayload(dst []byte, n uint32) error {
	read, err := io.ReadFull(fc.Reader, dst[:n])
	fc.bytesRead += uint64(read)
	return err
}

// writeFrame writes a length-prefixed frame and flushes it.
func (fc *frameConn) writeFrame(payload []byte) error {
	if err := fc.writeUint32BE(uint32(len(payload))); err != nil {
		return fmt.Errorf("frame length: %w", err)
	}
	n, err := fc.Writer.Write(payload)
	fc.bytesWritten += uint64(n)
	if err != nil {
		return fmt.Errorf("frame payload: %w", err)
	}
	return fc.Writer.Flush()
}
