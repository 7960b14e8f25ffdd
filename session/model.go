package session

// Session is one authenticated device session. FingerprintHash is the
// SHA-256 of the client's user-agent string, a weak device-binding signal
// checked on every validated request.
type Session struct {
	ID          string
	PrincipalID string

	FingerprintHash [32]byte
	Address         string

	CreatedAt      int64
	LastActivityAt int64
}
