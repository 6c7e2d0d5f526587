/*
NAME
  lex.go

DESCRIPTION
  lex.go provides a lexer to lex h264 bytestream into access units.

AUTHOR
  Dan Kortschak <dan@ausocean.org>
  Saxon Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

// Package h264 provides a h264 bytestream lexer and NAL unit inspection
// utilities.
package h264

import (
	"bufio"
	"io"
)

// Lex lexes a H.264 Annex B byte stream read from src into access units,
// writing each access unit to dst in a single write. Bytes are passed through
// unmodified, so the concatenation of all writes is the input less any bytes
// preceding the first start code.
//
// An access unit ends when, after at least one coded slice, a NAL unit of type
// 6 (SEI), 7 (SPS), 8 (PPS) or 9 (AUD) arrives, or a coded slice whose
// first_mb_in_slice is zero arrives. Lex returns io.EOF once src is exhausted
// and the final access unit has been written.
func Lex(dst io.Writer, src io.Reader) error {
	const bufSize = 8 << 10

	r := bufio.NewReaderSize(src, 4<<10) // Standard file buffer size.
	l := &lexer{dst: dst, au: make([]byte, 0, 8*bufSize)}

	nal := make([]byte, 0, bufSize)
	tail := make([]byte, 0, 4)
	started := false
	zeros := 0

	for {
		b, err := r.ReadByte()
		if err != nil {
			if err != io.EOF {
				return err
			}
			if started {
				err = l.nal(nal)
				if err != nil {
					return err
				}
			}
			err = l.flush()
			if err != nil {
				return err
			}
			return io.EOF
		}
		nal = append(nal, b)

		switch {
		case b == 0x00:
			zeros++
			continue
		case b == 0x01 && zeros >= 2:
		default:
			zeros = 0
			continue
		}

		// Found a start code; the run of zeros before the 0x01 belongs to it.
		boundary := len(nal) - 1 - zeros
		zeros = 0
		tail = append(tail[:0], nal[boundary:]...)
		if started && boundary > 0 {
			err = l.nal(nal[:boundary])
			if err != nil {
				return err
			}
		}
		started = true
		nal = append(nal[:0], tail...)
	}
}

// lexer groups NAL units into access units.
type lexer struct {
	dst      io.Writer
	au       []byte
	hasSlice bool
}

// nal adds the NAL unit n, including its start code, to the current access
// unit, first writing out the current access unit if n begins a new one.
func (l *lexer) nal(n []byte) error {
	typ, firstMB := header(n)
	if l.hasSlice && beginsAccessUnit(typ, firstMB) {
		err := l.flush()
		if err != nil {
			return err
		}
	}
	l.au = append(l.au, n...)
	if typ == NALTypeNonIDR || typ == NALTypeIDR {
		l.hasSlice = true
	}
	return nil
}

func (l *lexer) flush() error {
	if len(l.au) == 0 {
		return nil
	}
	_, err := l.dst.Write(l.au)
	l.au = l.au[:0]
	l.hasSlice = false
	return err
}

func beginsAccessUnit(typ int, firstMB bool) bool {
	switch typ {
	case NALTypeSEI, NALTypeSPS, NALTypePPS, NALTypeAccessUnitDelimiter:
		return true
	case NALTypeNonIDR, NALTypeIDR:
		return firstMB
	}
	return false
}

// header returns the type of the byte stream NAL unit n and, for slices,
// whether first_mb_in_slice is zero. A zero first_mb_in_slice is coded as a
// single set bit by ue(v), so only the top bit of the slice header matters.
func header(n []byte) (typ int, firstMB bool) {
	i := 0
	for i < len(n) && n[i] == 0x00 {
		i++
	}
	i++ // 0x01
	if i >= len(n) {
		return -1, false
	}
	typ = int(n[i] & 0x1f)
	if i+1 < len(n) {
		firstMB = n[i+1]&0x80 != 0
	}
	return typ, firstMB
}
