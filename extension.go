package ws

import (
	"bytes"

	"github.com/gobwas/httphead"
)

// PerMessageDeflateExtension is the registered name of the RFC7692
// compression extension inside a Sec-WebSocket-Extensions header.
const PerMessageDeflateExtension = "permessage-deflate"

var perMessageDeflateBytes = []byte(PerMessageDeflateExtension)

// negotiatedPerMessageDeflate reports whether the already-negotiated
// extensions string selects permessage-deflate.
//
// The connection only records the fact; compliant DEFLATE framing per
// RFC7692 is not implemented and RSV bits stay zero on every written frame.
func negotiatedPerMessageDeflate(extensions string) bool {
	if extensions == "" {
		return false
	}
	var found bool
	httphead.ScanOptions([]byte(extensions), func(i int, name, attr, val []byte) httphead.Control {
		if bytes.Equal(name, perMessageDeflateBytes) {
			found = true
			return httphead.ControlBreak
		}
		return httphead.ControlContinue
	})
	return found
}
