package tcp

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
)

// maxFrame bounds a single frame. Messages are tiny; anything larger is
// a corrupt or foreign stream.
const maxFrame = 1 << 20

var errFrameSize = errors.New("invalid frame size")

// writeFrame writes one length-prefixed frame (u32 LE) and flushes.
func writeFrame(w *bufio.Writer, b []byte) error {
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := w.Write(lenbuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	return w.Flush()
}

// readFrame reads one length-prefixed frame.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n > maxFrame {
		return nil, errFrameSize
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
