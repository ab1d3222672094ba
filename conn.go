package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Side tells which endpoint of the connection we are. It decides the
// masking rules: clients mask every frame they send, servers never do.
type Side uint8

const (
	ServerSide Side = iota
	ClientSide
)

// MessageType labels results returned by Receive and payloads given to Send.
type MessageType uint8

const (
	MessageText MessageType = iota + 1
	MessageBinary
	MessageClose
)

func (t MessageType) String() string {
	switch t {
	case MessageText:
		return "text"
	case MessageBinary:
		return "binary"
	case MessageClose:
		return "close"
	}
	return fmt.Sprintf("messagetype(%d)", uint8(t))
}

// ConnState is the lifecycle state of a connection. It only ever moves
// forward: once Closed or Aborted it never leaves.
type ConnState uint32

const (
	Open ConnState = iota
	CloseSent
	CloseReceived
	Closed
	Aborted
)

// Terminal reports whether s is a final state.
func (s ConnState) Terminal() bool {
	return s == Closed || s == Aborted
}

func (s ConnState) String() string {
	switch s {
	case Open:
		return "open"
	case CloseSent:
		return "close-sent"
	case CloseReceived:
		return "close-received"
	case Closed:
		return "closed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("connstate(%d)", uint32(s))
}

// Result describes one frame surfaced to the Receive caller.
//
// Count bytes of the caller's buffer hold the payload. For Close results
// CloseStatus and CloseReason carry the decoded close payload.
type Result struct {
	Count        int
	Type         MessageType
	EndOfMessage bool
	CloseStatus  StatusCode
	CloseReason  string
}

// StateError reports a public operation attempted in a connection state that
// does not permit it.
type StateError struct {
	Op    string
	State ConnState
}

func (e StateError) Error() string {
	return fmt.Sprintf("ws: %s called in %s state", e.Op, e.State)
}

// ErrCloseViaSend is returned by Send when given MessageType Close;
// the close handshake goes through Close or CloseOutput.
var ErrCloseViaSend = errors.New("ws: close frames cannot be sent via Send")

// DefaultKeepAliveInterval is the ping period used when no option overrides
// it.
const DefaultKeepAliveInterval = 30 * time.Second

const (
	// Budget for the best-effort close frame written on receive-path errors.
	autoCloseTimeout = 3 * time.Second
	// Budget for the close frame written by Shutdown on a still-open
	// connection.
	shutdownCloseTimeout = 5 * time.Second
)

type config struct {
	keepAliveInterval time.Duration
	includeCause      bool
	pool              BufferPool
	log               *zap.Logger
	subprotocol       string
	path              string
	extensions        string
	limit             rate.Limit
	burst             int
}

// Option configures a connection at construction time.
type Option func(*config)

// WithKeepAliveInterval sets the ping period. Zero disables keep-alive.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(c *config) { c.keepAliveInterval = d }
}

// WithCauseInCloseReason makes receive-path failures append the causing
// error's text to the reason of the automatic close frame.
func WithCauseInCloseReason() Option {
	return func(c *config) { c.includeCause = true }
}

// WithLogger sets the structured event sink. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithBufferPool sets the scratch buffer pool frames are encoded through.
func WithBufferPool(p BufferPool) Option {
	return func(c *config) { c.pool = p }
}

// WithSubprotocol records the subprotocol negotiated during the handshake.
func WithSubprotocol(s string) Option {
	return func(c *config) { c.subprotocol = s }
}

// WithPath records the request path the connection was opened on.
func WithPath(s string) Option {
	return func(c *config) { c.path = s }
}

// WithNegotiatedExtensions passes the Sec-WebSocket-Extensions value agreed
// during the handshake. The connection inspects it for permessage-deflate.
func WithNegotiatedExtensions(s string) Option {
	return func(c *config) { c.extensions = s }
}

// WithReceiveLimit rate-limits inbound data frames surfaced by Receive.
func WithReceiveLimit(limit rate.Limit, burst int) Option {
	return func(c *config) { c.limit, c.burst = limit, burst }
}

// Conn is one WebSocket endpoint over an established Stream.
//
// One goroutine is expected to own Receive; Send, SendPing, Close,
// CloseOutput, Abort and Shutdown may be called from any goroutine at any
// time.
type Conn struct {
	id      uuid.UUID
	side    Side
	stream  Stream
	pool    BufferPool
	log     *zap.Logger
	ser     *serializer
	ka      *keepAliveManager
	limiter *rate.Limiter

	// Inbound lifetime: canceled on every terminal transition, which
	// unblocks a pending Receive and stops the keep-alive goroutine.
	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Uint32

	// Receive-loop bookkeeping; touched only by the receiver goroutine.
	codecState       State
	continuationType MessageType

	// Whether the next data send must use a continuation opcode.
	sendContinuation atomic.Bool

	mu          sync.Mutex
	closeStatus StatusCode
	closeReason string
	onPong      func(payload []byte)

	viewWarned atomic.Bool
	disposed   atomic.Bool

	keepAliveInterval time.Duration
	includeCause      bool
	subprotocol       string
	path              string
	compressed        bool
	created           time.Time
	localAddr         net.Addr
	remoteAddr        net.Addr
}

// NewConn builds a connection over s acting as the given side. The stream
// must be positioned right after the opening handshake.
func NewConn(s Stream, side Side, opts ...Option) *Conn {
	cfg := config{
		keepAliveInterval: DefaultKeepAliveInterval,
		pool:              defaultBufferPool,
		log:               zap.NewNop(),
	}
	for _, o := range opts {
		o(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		id:                uuid.New(),
		side:              side,
		stream:            s,
		pool:              cfg.pool,
		ser:               newSerializer(s),
		ctx:               ctx,
		cancel:            cancel,
		continuationType:  MessageBinary,
		keepAliveInterval: cfg.keepAliveInterval,
		includeCause:      cfg.includeCause,
		subprotocol:       cfg.subprotocol,
		path:              cfg.path,
		created:           time.Now(),
	}
	c.log = cfg.log.With(zap.Stringer("conn", c.id))
	c.state.Store(uint32(Open))

	// The receive path stays lenient about masking direction: the side only
	// decides how our own frames are written. Callers wanting strict
	// direction checks can drive ReadFrame with a side state themselves.

	if negotiatedPerMessageDeflate(cfg.extensions) {
		// Recorded only; frames are never deflated and RSV1 stays zero on
		// everything we write.
		c.compressed = true
		c.codecState = c.codecState.Set(StateExtended)
		c.log.Info(evUsePerMessageDeflate, zap.String("extensions", cfg.extensions))
	} else {
		c.log.Debug(evNoMessageCompression)
	}

	if as, ok := s.(addressedStream); ok {
		c.localAddr = as.LocalAddr()
		c.remoteAddr = as.RemoteAddr()
	}

	if cfg.limit > 0 {
		c.limiter = rate.NewLimiter(cfg.limit, cfg.burst)
	}

	if cfg.keepAliveInterval > 0 {
		c.ka = startKeepAlive(c, cfg.keepAliveInterval)
	} else {
		c.log.Debug(evKeepAliveIntervalZero)
	}

	return c
}

// ID returns the connection identity assigned at construction.
func (c *Conn) ID() uuid.UUID { return c.id }

// IsClient reports whether this endpoint is the client side.
func (c *Conn) IsClient() bool { return c.side == ClientSide }

// State returns the current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// CloseStatus returns the close code received from the peer, if any.
func (c *Conn) CloseStatus() StatusCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeStatus
}

// CloseReason returns the close reason received from the peer, if any.
func (c *Conn) CloseReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeReason
}

// Subprotocol returns the negotiated subprotocol, if any.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// KeepAliveInterval returns the configured ping period.
func (c *Conn) KeepAliveInterval() time.Duration { return c.keepAliveInterval }

// LocalAddr returns the local endpoint address when the stream exposes one.
func (c *Conn) LocalAddr() net.Addr { return c.localAddr }

// RemoteAddr returns the remote endpoint address when the stream exposes one.
func (c *Conn) RemoteAddr() net.Addr { return c.remoteAddr }

// Timestamp returns the connection creation time.
func (c *Conn) Timestamp() time.Time { return c.created }

// Path returns the request path the connection was opened on.
func (c *Conn) Path() string { return c.path }

// Compressed reports whether permessage-deflate was negotiated for this
// connection. Compression itself is not applied.
func (c *Conn) Compressed() bool { return c.compressed }

// OnPong registers the observer invoked with each received pong payload.
// The payload slice is only valid for the duration of the call.
func (c *Conn) OnPong(fn func(payload []byte)) {
	c.mu.Lock()
	c.onPong = fn
	c.mu.Unlock()
}

// Receive reads frames until one must be surfaced to the caller.
//
// Data frames return one Result with the payload in p[:Count]. Pings are
// answered inline, pongs are dispatched to the keep-alive manager and the
// OnPong observer, and a close frame completes or answers the close
// handshake before returning a MessageClose result.
//
// Any receive error first triggers a best-effort close frame (bounded by a
// 3 second budget) and is then returned unchanged.
func (c *Conn) Receive(ctx context.Context, p []byte) (Result, error) {
	if s := c.State(); s.Terminal() {
		return Result{}, StateError{Op: "Receive", State: s}
	}

	// Link the caller's context with the connection lifetime so Abort,
	// CloseOutput and Shutdown unblock a pending read.
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	for {
		f, err := ReadFrame(rctx, c.stream, p, c.codecState)
		if err != nil {
			return Result{}, c.receiveFailed(err)
		}
		c.log.Debug(evReceivedFrame,
			zap.Uint8("opcode", uint8(f.Header.OpCode)),
			zap.Bool("fin", f.Header.Fin),
			zap.Int64("length", f.Header.Length),
		)

		switch f.Header.OpCode {
		case OpClose:
			return c.respondToCloseFrame(rctx, f)

		case OpPing:
			if err := c.sendPong(rctx, f.Payload); err != nil {
				return Result{}, c.receiveFailed(err)
			}

		case OpPong:
			c.pongReceived(f.Payload)

		case OpText, OpBinary, OpContinuation:
			if c.limiter != nil {
				if err := c.limiter.Wait(rctx); err != nil {
					return Result{}, c.receiveFailed(err)
				}
			}
			return c.dataResult(f), nil

		default:
			// ReadFrame rejects reserved opcodes before we get here.
			return Result{}, c.receiveFailed(ErrProtocolOpCodeReserved)
		}
	}
}

// dataResult labels a data frame, maintaining the continuation memory: a
// fragmented message is reported with the type of its first frame.
func (c *Conn) dataResult(f Frame) Result {
	t := c.continuationType
	switch f.Header.OpCode {
	case OpText:
		t = MessageText
	case OpBinary:
		t = MessageBinary
	}
	if f.Header.OpCode != OpContinuation && !f.Header.Fin {
		c.continuationType = t
	}
	if f.Header.Fin {
		c.codecState = c.codecState.Clear(StateFragmented)
	} else {
		c.codecState = c.codecState.Set(StateFragmented)
	}
	return Result{
		Count:        len(f.Payload),
		Type:         t,
		EndOfMessage: f.Header.Fin,
	}
}

// respondToCloseFrame runs the inbound half of the close handshake.
func (c *Conn) respondToCloseFrame(ctx context.Context, f Frame) (Result, error) {
	code, reason := ParseCloseFrameData(f.Payload)

	c.mu.Lock()
	c.closeStatus = code
	c.closeReason = reason
	c.mu.Unlock()

	res := Result{
		Count:        len(f.Payload),
		Type:         MessageClose,
		EndOfMessage: true,
		CloseStatus:  code,
		CloseReason:  reason,
	}

	for {
		switch s := c.State(); s {
		case CloseSent:
			if !c.casState(CloseSent, Closed) {
				continue
			}
			c.log.Debug(evCloseHandshakeComplete, zap.Uint16("code", uint16(code)))
			c.cancel()
			return res, nil

		case Open:
			if !c.casState(Open, CloseReceived) {
				continue
			}
			c.log.Debug(evCloseHandshakeRespond, zap.Uint16("code", uint16(code)))
			// Echo the close payload back; handshake is then complete from
			// our side regardless of the echo outcome.
			if err := c.writeFrame(ctx, OpClose, true, f.Payload); err != nil {
				c.log.Warn(evCloseOutputAutoTimeoutError, zap.Error(err))
			}
			c.casState(CloseReceived, Closed)
			c.cancel()
			return res, nil

		default:
			c.log.Warn(evCloseFrameUnexpectedState, zap.Stringer("state", s))
			return res, nil
		}
	}
}

// receiveFailed writes a best-effort close frame matching err and returns
// err unchanged. The connection is in a terminal state by the time the
// failure surfaces, even when the close frame could not be written (close
// already sent, write failure).
func (c *Conn) receiveFailed(err error) error {
	c.closeOutputTimeout(closeCodeFor(err), "", err)
	for {
		s := c.State()
		if s.Terminal() {
			break
		}
		if c.casState(s, Closed) {
			c.cancel()
			break
		}
	}
	return err
}

// protocolErrors are the checker failures that map to close code 1002.
var protocolErrors = []error{
	ErrProtocolOpCodeReserved,
	ErrProtocolControlPayloadOverflow,
	ErrProtocolControlNotFinal,
	ErrProtocolNonZeroRsv,
	ErrProtocolMaskRequired,
	ErrProtocolMaskUnexpected,
	ErrProtocolContinuationExpected,
	ErrProtocolContinuationUnexpected,
}

func isProtocolError(err error) bool {
	for _, pe := range protocolErrors {
		if errors.Is(err, pe) {
			return true
		}
	}
	return false
}

// closeCodeFor maps a receive-path failure to the close code sent to the
// peer before the failure surfaces.
func closeCodeFor(err error) StatusCode {
	switch {
	case errors.Is(err, ErrBufferOverflow):
		return StatusMessageTooBig
	case errors.Is(err, ErrHeaderLengthMSB), errors.Is(err, ErrHeaderLengthUnexpected):
		return StatusProtocolError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusGoingAway
	case isProtocolError(err):
		return StatusProtocolError
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return StatusInvalidFramePayloadData
	default:
		return StatusInternalServerError
	}
}

// Send writes one data frame. A fragmented message is produced by calling
// Send with fin=false and finishing with fin=true; intermediate calls use
// the continuation opcode automatically.
func (c *Conn) Send(ctx context.Context, p []byte, t MessageType, fin bool) error {
	if s := c.State(); s != Open {
		return StateError{Op: "Send", State: s}
	}

	var op OpCode
	switch {
	case t == MessageClose:
		return ErrCloseViaSend
	case c.sendContinuation.Load():
		op = OpContinuation
	case t == MessageText:
		op = OpText
	case t == MessageBinary:
		op = OpBinary
	default:
		return ErrCloseViaSend
	}

	if err := c.writeFrame(ctx, op, fin, p); err != nil {
		return err
	}
	// Only data sends move the continuation flag.
	c.sendContinuation.Store(!fin)
	return nil
}

// SendPing writes one ping frame with the given payload, at most 125 bytes.
func (c *Conn) SendPing(ctx context.Context, p []byte) error {
	if len(p) > MaxControlFramePayloadSize {
		return ErrProtocolControlPayloadOverflow
	}
	if s := c.State(); s != Open {
		return StateError{Op: "SendPing", State: s}
	}
	return c.writeFrame(ctx, OpPing, true, p)
}

// sendPong answers an inbound ping. Pongs are only emitted while Open;
// during a close handshake they are silently dropped.
func (c *Conn) sendPong(ctx context.Context, p []byte) error {
	if len(p) > MaxControlFramePayloadSize {
		return ErrProtocolControlPayloadOverflow
	}
	if c.State() != Open {
		return nil
	}
	return c.writeFrame(ctx, OpPong, true, p)
}

// writeFrame encodes one frame through the scratch buffer pool and hands it
// to the write serializer. The buffer returns to the pool once the
// serializer is done with it.
func (c *Conn) writeFrame(ctx context.Context, op OpCode, fin bool, p []byte) error {
	buf := c.pool.Get()
	if err := WriteMaskedFrame(buf, op, fin, p, c.side == ClientSide); err != nil {
		c.pool.Put(buf)
		return err
	}

	view, ok := buf.TryGetView()
	if !ok {
		if !c.viewWarned.Swap(true) {
			c.log.Warn(evTryGetBufferNotSupported)
		}
		view = buf.Bytes()
	}

	c.log.Debug(evSendingFrame,
		zap.Uint8("opcode", uint8(op)),
		zap.Bool("fin", fin),
		zap.Int("length", len(p)),
	)
	return c.ser.send(ctx, view, func() { c.pool.Put(buf) })
}

// Close starts the polite close handshake: it writes a close frame and moves
// the connection to the close-sent state. The peer's answering close frame
// is picked up by Receive, which completes the handshake.
func (c *Conn) Close(ctx context.Context, code StatusCode, reason string) error {
	// Winning the state transition first keeps concurrent closers from each
	// putting a close frame on the wire.
	if !c.casState(Open, CloseSent) {
		s := c.State()
		c.log.Warn(evInvalidStateBeforeClose, zap.Stringer("state", s))
		return StateError{Op: "Close", State: s}
	}
	c.log.Debug(evCloseHandshakeStarted,
		zap.Uint16("code", uint16(code)),
		zap.String("reason", reason),
	)
	return c.writeFrame(ctx, OpClose, true, NewCloseFrameData(code, reason))
}

// CloseOutput writes a close frame without waiting for the handshake and
// moves the connection straight to Closed.
func (c *Conn) CloseOutput(ctx context.Context, code StatusCode, reason string) error {
	// The state flips before the write so a failed write cannot leave the
	// connection half-closed.
	if !c.casState(Open, Closed) {
		s := c.State()
		c.log.Warn(evInvalidStateBeforeCloseOutput, zap.Stringer("state", s))
		return StateError{Op: "CloseOutput", State: s}
	}
	c.log.Debug(evCloseOutputNoHandshake, zap.Uint16("code", uint16(code)))
	err := c.writeFrame(ctx, OpClose, true, NewCloseFrameData(code, reason))
	c.cancel()
	return err
}

// closeOutputTimeout is the bounded best-effort close used on receive-path
// failures. Secondary failures inside it are logged, never returned: the
// primary cause is what the caller gets.
func (c *Conn) closeOutputTimeout(code StatusCode, reason string, cause error) {
	if c.includeCause && cause != nil {
		reason = reason + "\n\n" + cause.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), autoCloseTimeout)
	defer cancel()

	err := c.CloseOutput(ctx, code, reason)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		c.log.Warn(evCloseOutputAutoTimeout, zap.NamedError("cause", cause))
	case errors.Is(err, context.Canceled):
		c.log.Warn(evCloseOutputAutoTimeoutCanceled, zap.NamedError("cause", cause))
	default:
		c.log.Error(evCloseOutputAutoTimeoutError, zap.Error(err), zap.NamedError("cause", cause))
	}
}

// Abort moves the connection to Aborted and unblocks a pending Receive.
// No close frame is written. Terminal states are left untouched.
func (c *Conn) Abort() {
	for {
		s := c.State()
		if s.Terminal() {
			return
		}
		if c.casState(s, Aborted) {
			c.cancel()
			return
		}
	}
}

// Shutdown releases the connection: a still-open connection gets a bounded
// close frame first, then the inbound context is canceled and the stream
// closed. Shutdown is idempotent and safe to call from any goroutine.
func (c *Conn) Shutdown() error {
	if c.disposed.Swap(true) {
		return nil
	}
	c.log.Debug(evDispose, zap.Stringer("state", c.State()))

	if c.State() == Open {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownCloseTimeout)
		err := c.CloseOutput(ctx, StatusGoingAway, "")
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn(evDisposeCloseTimeout)
		}
	}

	c.cancel()
	if err := c.stream.Close(); err != nil {
		c.log.Error(evDisposeError, zap.Error(err))
		return err
	}
	return nil
}

// pongReceived feeds a pong payload to the keep-alive manager and the
// registered observer.
func (c *Conn) pongReceived(payload []byte) {
	if c.ka != nil {
		c.ka.pongReceived(payload)
	}
	c.mu.Lock()
	fn := c.onPong
	c.mu.Unlock()
	if fn != nil {
		fn(payload)
	}
}

func (c *Conn) casState(from, to ConnState) bool {
	return c.state.CompareAndSwap(uint32(from), uint32(to))
}
