package belabox

import "errors"

var (
	// ErrDisconnected is returned for a request submitted while there is
	// no live connection to BELABOX Cloud. Requests are never queued for
	// a future connection.
	ErrDisconnected = errors.New("disconnected from BELABOX Cloud")

	// ErrSendFailed wraps a transport write error for an individual frame.
	ErrSendFailed = errors.New("websocket send failed")

	// ErrAuthFailed means the relay rejected the remote key. Fatal for
	// the current connection; the supervisor reconnects fresh, so with a
	// wrong key every attempt repeats the same rejection.
	ErrAuthFailed = errors.New("auth failed")

	// ErrAlreadyRestarting is returned when a reboot is requested while
	// a previous reboot sequence is still pending.
	ErrAlreadyRestarting = errors.New("already restarting")

	// ErrSessionClosed is returned by Subscribe after the session has
	// been torn down for good.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnknownKey marks an envelope field with no registered decoder.
	ErrUnknownKey = errors.New("unknown envelope key")
)
