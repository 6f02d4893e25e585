package placement

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"
)

var (
	// ErrCSRFTokenMissing occurs when no token accompanies a mutating request.
	ErrCSRFTokenMissing = errors.New("placement: csrf token missing")
	// ErrCSRFTokenMismatch occurs when the token does not match the session.
	ErrCSRFTokenMismatch = errors.New("placement: csrf token mismatch")
)

// CSRFHeader carries the token on API requests.
const CSRFHeader = "X-CSRF-Token"

// CSRFManager issues and verifies tokens bound to a session.
type CSRFManager struct {
	secret []byte
	now    func() time.Time
}

// NewCSRFManager returns a manager keyed with secret.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret), now: time.Now}
}

// Issue derives a fresh token for the session id.
func (m *CSRFManager) Issue(sessionID string) string {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(sessionID))
	_, _ = mac.Write([]byte{'|'})
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(m.now().UnixNano()))
	_, _ = mac.Write(buf)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Verify compares token with the one stored on sess.
func (m *CSRFManager) Verify(sess *Session, token string) error {
	if sess == nil || sess.CSRFToken == "" || token == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(sess.CSRFToken), []byte(token)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}
