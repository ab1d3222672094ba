package ws

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// fakeStream scripts the inbound byte sequence and records everything
// written. Reads past the script end fail with io.EOF/io.ErrUnexpectedEOF.
type fakeStream struct {
	in *bytes.Reader

	mu     sync.Mutex
	out    bytes.Buffer
	closed bool
}

func newFakeStream(script ...[]byte) *fakeStream {
	return &fakeStream{in: bytes.NewReader(bytes.Join(script, nil))}
}

func (s *fakeStream) ReadFull(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := io.ReadFull(s.in, p)
	return err
}

func (s *fakeStream) Write(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.out.Write(p)
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.out.Bytes()...)
}

// blockingStream blocks every read until the context is done. Writes are
// recorded like fakeStream.
type blockingStream struct {
	fakeStream
}

func newBlockingStream() *blockingStream {
	return &blockingStream{fakeStream{in: bytes.NewReader(nil)}}
}

func (s *blockingStream) ReadFull(ctx context.Context, p []byte) error {
	<-ctx.Done()
	return ctx.Err()
}

func bits(s string) []byte {
	s = strings.ReplaceAll(s, " ", "")
	bts := make([]byte, len(s)/8)

	for i, j := 0, 0; i < len(s); i, j = i+8, j+1 {
		fmt.Sscanf(s[i:], "%08b", &bts[j])
	}

	return bts
}
