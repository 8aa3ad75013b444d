// Package wire implements the length-prefixed frame codec used by the
// overlay transport's wire protocol: each frame carries a
// version byte, message type id, sender peer id, nonce, payload bytes, and
// signature, all length-prefixed and preceded by a 4-byte big-endian frame
// length. The package has no dependency on core so it can be reused by
// CLI/test collaborators that only need to speak the wire format.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// CurrentVersion is the only version byte this codec accepts.
const CurrentVersion byte = 1

// DefaultMaxFrameSize is the default maximum encoded frame size.
const DefaultMaxFrameSize = 1 << 20

var (
	ErrUnknownVersion = errors.New("wire: unknown frame version")
	ErrFrameTooLarge  = errors.New("wire: frame exceeds maximum size")
	ErrTruncated      = errors.New("wire: truncated frame")
)

// Frame is the on-wire envelope for every message exchanged between peers.
type Frame struct {
	Version   byte
	Type      byte
	SenderID  []byte
	Nonce     []byte
	Payload   []byte
	Signature []byte
}

func putBytes(buf []byte, b []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, b...)
}

// Encode serializes f into the wire representation: version, type, then
// four length-prefixed byte fields (sender id, nonce, payload, signature).
func (f *Frame) Encode() ([]byte, error) {
	body := make([]byte, 0, 2+len(f.SenderID)+len(f.Nonce)+len(f.Payload)+len(f.Signature)+16)
	body = append(body, f.Version, f.Type)
	body = putBytes(body, f.SenderID)
	body = putBytes(body, f.Nonce)
	body = putBytes(body, f.Payload)
	body = putBytes(body, f.Signature)
	return body, nil
}

func readBytes(r *byteReader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, ErrTruncated
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, ErrTruncated
	}
	return out, nil
}

type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}

// Decode parses a frame body (without the length prefix written by
// WriteFrame) produced by Encode.
func Decode(body []byte, maxSize int) (*Frame, error) {
	if maxSize > 0 && len(body) > maxSize {
		return nil, ErrFrameTooLarge
	}
	if len(body) < 2 {
		return nil, ErrTruncated
	}
	r := &byteReader{data: body}
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, ErrTruncated
	}
	if hdr[0] != CurrentVersion {
		return nil, ErrUnknownVersion
	}
	f := &Frame{Version: hdr[0], Type: hdr[1]}
	var err error
	if f.SenderID, err = readBytes(r); err != nil {
		return nil, err
	}
	if f.Nonce, err = readBytes(r); err != nil {
		return nil, err
	}
	if f.Payload, err = readBytes(r); err != nil {
		return nil, err
	}
	if f.Signature, err = readBytes(r); err != nil {
		return nil, err
	}
	return f, nil
}

// WriteFrame writes f to w prefixed with its own 4-byte big-endian length,
// enforcing maxSize (0 means DefaultMaxFrameSize).
func WriteFrame(w io.Writer, f *Frame, maxSize int) error {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	body, err := f.Encode()
	if err != nil {
		return err
	}
	if len(body) > maxSize {
		return ErrFrameTooLarge
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ReadFrame reads one length-prefixed frame from r, rejecting frames
// larger than maxSize (0 means DefaultMaxFrameSize) and unknown version
// bytes.
func ReadFrame(r io.Reader, maxSize int) (*Frame, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > maxSize {
		return nil, ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, ErrTruncated
	}
	return Decode(body, maxSize)
}
