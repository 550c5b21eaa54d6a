package webhook

import "errors"

var (
	// ErrVerifyTokenMismatch indicates a subscription handshake carrying the
	// wrong verify token.
	ErrVerifyTokenMismatch = errors.New("verify token mismatch")
	// ErrBadVerifyRequest indicates a handshake missing the mode or challenge.
	ErrBadVerifyRequest = errors.New("malformed subscription verification request")
)

// VerifySubscription validates the GET handshake the provider performs when a
// subscription is created. On success the caller must echo the challenge back.
func VerifySubscription(mode, token, challenge, expectedToken string) (string, error) {
	if mode != "subscribe" || challenge == "" {
		return "", ErrBadVerifyRequest
	}
	if token != expectedToken {
		return "", ErrVerifyTokenMismatch
	}
	return challenge, nil
}
