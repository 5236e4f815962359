package auth

import "golang.org/x/crypto/bcrypt"

// WriteKey gates mutating endpoints behind a shared deployment secret. The
// zero value (no configured hash) disables the gate.
type WriteKey struct {
	hash []byte
}

// NewWriteKey wraps a bcrypt hash of the deployment's write key. An empty
// hash disables the check.
func NewWriteKey(bcryptHash string) WriteKey {
	if bcryptHash == "" {
		return WriteKey{}
	}
	return WriteKey{hash: []byte(bcryptHash)}
}

// HashWriteKey produces the bcrypt hash to put in configuration.
func HashWriteKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Enabled reports whether a write key is configured.
func (k WriteKey) Enabled() bool {
	return len(k.hash) > 0
}

// Verify checks a presented key against the configured hash. It succeeds
// trivially when the gate is disabled.
func (k WriteKey) Verify(presented string) bool {
	if !k.Enabled() {
		return true
	}
	return bcrypt.CompareHashAndPassword(k.hash, []byte(presented)) == nil
}
