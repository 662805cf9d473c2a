// Package securemem keeps secrets such as the authorization service's bearer
// token in memguard-protected memory instead of ordinary Go strings.
package securemem

import (
	"crypto/subtle"

	"github.com/awnumar/memguard"
)

// String is a secret held in a locked, guarded buffer.
type String struct {
	buf       *memguard.LockedBuffer
	destroyed bool
}

// NewString moves plaintext into protected memory.
func NewString(plaintext string) *String {
	return &String{buf: memguard.NewBufferFromBytes([]byte(plaintext))}
}

// IsEmpty reports whether s holds no secret, including after Destroy.
func (s *String) IsEmpty() bool {
	if s == nil || s.destroyed || s.buf == nil {
		return true
	}
	return len(s.buf.Bytes()) == 0
}

// Len returns the secret's length in bytes.
func (s *String) Len() int {
	if s.IsEmpty() {
		return 0
	}
	return len(s.buf.Bytes())
}

// Equal compares other with the secret in constant time. A nil or destroyed
// String equals nothing, not even "".
func (s *String) Equal(other string) bool {
	if s == nil || s.destroyed || s.buf == nil {
		return false
	}
	return subtle.ConstantTimeCompare(s.buf.Bytes(), []byte(other)) == 1
}

// Destroy wipes the secret. It is safe to call more than once.
func (s *String) Destroy() {
	if s == nil || s.destroyed {
		return
	}
	if s.buf != nil {
		s.buf.Destroy()
		s.buf = nil
	}
	s.destroyed = true
}
