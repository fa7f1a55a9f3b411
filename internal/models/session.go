package models

// SessionState is the connection state of one streaming session.
type SessionState string

const (
	// SessionIdle is the state of a session that has not started connecting.
	SessionIdle SessionState = "idle"
	// SessionConnecting means the request is in flight and no response has arrived yet.
	SessionConnecting SessionState = "connecting"
	// SessionOpen means the event stream is being read.
	SessionOpen SessionState = "open"
	// SessionClosed is the terminal state after the done event or an explicit close.
	SessionClosed SessionState = "closed"
	// SessionFailed is the terminal state after a transport failure.
	SessionFailed SessionState = "failed"
)

// Live reports whether the session still holds, or is acquiring, a connection.
func (s SessionState) Live() bool {
	return s == SessionConnecting || s == SessionOpen
}

// Terminal reports whether the session has ended for good.
func (s SessionState) Terminal() bool {
	return s == SessionClosed || s == SessionFailed
}
