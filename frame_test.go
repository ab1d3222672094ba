package ws

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

func TestOpCodeIsControl(t *testing.T) {
	for _, test := range []struct {
		code OpCode
		exp  bool
	}{
		{OpClose, true},
		{OpPing, true},
		{OpPong, true},
		{OpBinary, false},
		{OpText, false},
		{OpContinuation, false},
	} {
		t.Run(fmt.Sprintf("0x%02x", test.code), func(t *testing.T) {
			if act := test.code.IsControl(); act != test.exp {
				t.Errorf("IsControl = %v; want %v", act, test.exp)
			}
		})
	}
}

func TestOpCodeIsReserved(t *testing.T) {
	for code, exp := range map[OpCode]bool{
		OpContinuation: false,
		OpText:         false,
		OpBinary:       false,
		OpClose:        false,
		OpPing:         false,
		OpPong:         false,
		0x3:            true,
		0x7:            true,
		0xb:            true,
		0xf:            true,
	} {
		t.Run(fmt.Sprintf("0x%02x", code), func(t *testing.T) {
			if act := code.IsReserved(); act != exp {
				t.Errorf("IsReserved = %v; want %v", act, exp)
			}
		})
	}
}

func TestCloseFrameData(t *testing.T) {
	for _, test := range []struct {
		name   string
		code   StatusCode
		reason string
		exp    []byte
	}{
		{
			name: "code only",
			code: StatusNormalClosure,
			exp:  []byte{0x03, 0xe8},
		},
		{
			name:   "code and reason",
			code:   StatusNormalClosure,
			reason: "bye",
			exp:    []byte{0x03, 0xe8, 'b', 'y', 'e'},
		},
		{
			name:   "cropped reason",
			code:   StatusProtocolError,
			reason: strings.Repeat("x", 200),
			exp:    append([]byte{0x03, 0xea}, bytes.Repeat([]byte{'x'}, 123)...),
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			p := NewCloseFrameData(test.code, test.reason)
			if len(p) > MaxControlFramePayloadSize {
				t.Errorf("close payload is %d bytes; limit is %d", len(p), MaxControlFramePayloadSize)
			}
			if !bytes.Equal(p, test.exp) {
				t.Errorf("NewCloseFrameData() = % x; want % x", p, test.exp)
			}
		})
	}
}

func TestParseCloseFrameData(t *testing.T) {
	for _, test := range []struct {
		name   string
		p      []byte
		code   StatusCode
		reason string
	}{
		{
			name: "empty payload",
			p:    nil,
			code: StatusNoStatusRcvd,
		},
		{
			name: "one byte",
			p:    []byte{0x03},
			code: StatusNoStatusRcvd,
		},
		{
			name: "code only",
			p:    []byte{0x03, 0xe8},
			code: StatusNormalClosure,
		},
		{
			name:   "code and reason",
			p:      []byte{0x03, 0xe8, 'b', 'y', 'e'},
			code:   StatusNormalClosure,
			reason: "bye",
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			code, reason := ParseCloseFrameData(test.p)
			if code != test.code {
				t.Errorf("code = %d; want %d", code, test.code)
			}
			if reason != test.reason {
				t.Errorf("reason = %q; want %q", reason, test.reason)
			}
		})
	}
}

func TestCloseFrameDataRoundTrip(t *testing.T) {
	code, reason := ParseCloseFrameData(NewCloseFrameData(StatusGoingAway, "brb"))
	if code != StatusGoingAway || reason != "brb" {
		t.Errorf("round trip = (%d, %q); want (%d, %q)", code, reason, StatusGoingAway, "brb")
	}
}
