package ws

// Named events emitted on the connection's structured log surface.
// Hosts filter and route on these names.
const (
	evReceivedFrame                  = "ReceivedFrame"
	evSendingFrame                   = "SendingFrame"
	evKeepAliveIntervalZero          = "KeepAliveIntervalZero"
	evKeepAliveTimeout               = "KeepAliveTimeout"
	evUsePerMessageDeflate           = "UsePerMessageDeflate"
	evNoMessageCompression           = "NoMessageCompression"
	evCloseHandshakeStarted          = "CloseHandshakeStarted"
	evCloseHandshakeRespond          = "CloseHandshakeRespond"
	evCloseHandshakeComplete         = "CloseHandshakeComplete"
	evCloseOutputNoHandshake         = "CloseOutputNoHandshake"
	evCloseOutputAutoTimeout         = "CloseOutputAutoTimeout"
	evCloseOutputAutoTimeoutCanceled = "CloseOutputAutoTimeoutCancelled"
	evCloseOutputAutoTimeoutError    = "CloseOutputAutoTimeoutError"
	evInvalidStateBeforeClose        = "InvalidStateBeforeClose"
	evInvalidStateBeforeCloseOutput  = "InvalidStateBeforeCloseOutput"
	evCloseFrameUnexpectedState      = "CloseFrameReceivedInUnexpectedState"
	evTryGetBufferNotSupported       = "TryGetBufferNotSupported"
	evDispose                        = "Dispose"
	evDisposeCloseTimeout            = "DisposeCloseTimeout"
	evDisposeError                   = "DisposeError"
)
