/*
DESCRIPTION
  parse.go provides H.264 NAL unit parsing utilities for the inspection of
  access units.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Dan Kortschak <dan@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package h264

// NAL unit types, see Table 7-1 of ITU-T H.264.
const (
	NALTypeNonIDR              = 1
	NALTypeIDR                 = 5
	NALTypeSEI                 = 6
	NALTypeSPS                 = 7
	NALTypePPS                 = 8
	NALTypeAccessUnitDelimiter = 9
)

// NALTypes returns the types of the NAL units in the byte stream n, in order.
func NALTypes(n []byte) []int {
	var types []int
	sc := frameScanner{buf: n}
	for {
		typ, ok := sc.next()
		if !ok {
			return types
		}
		types = append(types, typ)
	}
}

// IsKeyframe returns true if the access unit au contains an IDR slice or a
// sequence parameter set, i.e. decoding may begin at au.
func IsKeyframe(au []byte) bool {
	sc := frameScanner{buf: au}
	for {
		typ, ok := sc.next()
		if !ok {
			return false
		}
		if typ == NALTypeIDR || typ == NALTypeSPS {
			return true
		}
	}
}

type frameScanner struct {
	off int
	buf []byte
}

func (s *frameScanner) readByte() (b byte, ok bool) {
	if s.off >= len(s.buf) {
		return 0, false
	}
	b = s.buf[s.off]
	s.off++
	return b, true
}

// next advances past the next start code and returns the type of the NAL
// unit that follows it.
func (s *frameScanner) next() (int, bool) {
	zeros := 0
	for {
		b, ok := s.readByte()
		if !ok {
			return 0, false
		}
		switch {
		case b == 0x00:
			zeros++
		case b == 0x01 && zeros >= 2:
			b, ok = s.readByte()
			if !ok {
				return 0, false
			}
			return int(b & 0x1f), true
		default:
			zeros = 0
		}
	}
}
