/*
Package ws implements the endpoint core of the WebSocket protocol as
specified in RFC 6455.

The package operates on an already-established duplex byte stream: the
opening HTTP handshake, TLS setup and connection registries are left to the
caller. What it provides is the per-connection framing codec and the
connection state machine — fragmentation, masking, control-frame handling,
the close handshake, keep-alive pings and serialized writes over a shared
transport.

A connection is constructed from a Stream and a side:

	conn := ws.NewConn(ws.NetStream(netConn), ws.ServerSide)
	defer conn.Shutdown()

	buf := make([]byte, ws.DefaultBufferLength)
	for {
		res, err := conn.Receive(ctx, buf)
		if err != nil {
			// handle err
		}
		if res.Type == ws.MessageClose {
			break
		}
		// buf[:res.Count] holds one (possibly partial) message.
	}

The frame codec is also usable on its own:

	f, err := ws.ReadFrame(ctx, stream, buf, ws.StateServerSide)

One receiver goroutine per connection is expected; any number of goroutines
may send, close or abort concurrently.
*/
package ws
