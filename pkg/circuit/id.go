package circuit

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// ID is the opaque identity of a circuit: a server-generated identifier
// plus a secret the client must present to reattach. Immutable for the
// circuit's lifetime.
type ID struct {
	id     string
	secret string
}

// NewID generates a fresh circuit identity.
func NewID() ID {
	return ID{
		id:     ulid.Make().String(),
		secret: generateSecret(),
	}
}

// NewIDWithSecret builds an identity from existing parts. A zero secret is
// rejected: a circuit must never be reachable without one.
func NewIDWithSecret(id, secret string) (ID, error) {
	if secret == "" {
		return ID{}, ErrMissingSecret
	}
	return ID{id: id, secret: secret}, nil
}

// ID returns the public identifier.
func (c ID) ID() string { return c.id }

// Secret returns the reattach secret. It is sent to the client exactly
// once, at connect time, and must never be logged.
func (c ID) Secret() string { return c.secret }

// MatchesSecret reports whether the presented secret matches, in constant
// time.
func (c ID) MatchesSecret(secret string) bool {
	return subtle.ConstantTimeCompare([]byte(c.secret), []byte(secret)) == 1
}

// Valid reports whether the identity carries a non-zero secret.
func (c ID) Valid() bool { return c.secret != "" }

// String returns the public identifier only; the secret never appears in
// logs.
func (c ID) String() string { return c.id }

// generateSecret returns a cryptographically random secret.
func generateSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// SECURITY: fatal on entropy failure, weak secrets are dangerous
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
