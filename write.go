package ws

import (
	"encoding/binary"
	"io"
)

const (
	bit0 = 0x80
	bit1 = 0x40
	bit2 = 0x20
	bit3 = 0x10
	bit4 = 0x08
	bit5 = 0x04
	bit6 = 0x02
	bit7 = 0x01

	len7  = int64(125)
	len16 = int64(^(uint16(0)))
	len64 = int64(^(uint64(0)) >> 1)
)

// HeaderSize returns the number of bytes the wire representation of h takes.
func HeaderSize(h Header) (n int) {
	switch {
	case h.Length < 126:
		n = 2
	case h.Length <= len16:
		n = 4
	case h.Length <= len64:
		n = 10
	default:
		return -1
	}
	if h.Masked {
		n += 4
	}
	return n
}

// WriteHeader writes the wire representation of h to w.
func WriteHeader(w io.Writer, h Header) error {
	size := HeaderSize(h)
	if size < 0 {
		return ErrHeaderLengthUnexpected
	}
	bts := make([]byte, 0, size)

	var b0 byte
	if h.Fin {
		b0 |= bit0
	}
	b0 |= h.Rsv << 4
	b0 |= byte(h.OpCode)

	var b1 byte
	if h.Masked {
		b1 |= bit0
	}

	switch {
	case h.Length <= len7:
		bts = append(bts, b0, b1|byte(h.Length))

	case h.Length <= len16:
		bts = append(bts, b0, b1|126, 0, 0)
		binary.BigEndian.PutUint16(bts[2:], uint16(h.Length))

	default:
		bts = append(bts, b0, b1|127, 0, 0, 0, 0, 0, 0, 0, 0)
		binary.BigEndian.PutUint64(bts[2:], uint64(h.Length))
	}

	if h.Masked {
		bts = append(bts, h.Mask[:]...)
	}

	_, err := w.Write(bts)
	return err
}

// WriteFrame writes the wire representation of f to w.
// It emits exactly one frame; fragmentation is the caller's concern.
// Payload bytes are written as is: the caller masks them beforehand if the
// header says so.
func WriteFrame(w io.Writer, f Frame) error {
	if err := WriteHeader(w, f.Header); err != nil {
		return err
	}
	_, err := w.Write(f.Payload)
	return err
}

// WriteMaskedFrame encodes one frame into w on behalf of the given side.
//
// A client-side frame gets a fresh random mask and its payload is XOR-masked
// on the way out without modifying p. Server-side frames go out unmasked.
func WriteMaskedFrame(w io.Writer, op OpCode, fin bool, p []byte, client bool) error {
	h := Header{
		Fin:    fin,
		OpCode: op,
		Length: int64(len(p)),
	}
	if !client {
		return WriteFrame(w, Frame{Header: h, Payload: p})
	}

	h.Masked = true
	h.Mask = NewMask()
	if err := WriteHeader(w, h); err != nil {
		return err
	}

	// Mask into a small scratch chunk so that p stays intact for the caller.
	var tmp [512]byte
	for off := 0; off < len(p); off += len(tmp) {
		n := copy(tmp[:], p[off:])
		Cipher(tmp[:n], h.Mask, off)
		if _, err := w.Write(tmp[:n]); err != nil {
			return err
		}
	}
	return nil
}
