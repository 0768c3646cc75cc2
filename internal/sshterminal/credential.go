package sshterminal

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
)

// Credential produces the SSH password presented alongside an identity.
type Credential interface {
	Password(id Identity) (string, error)
}

// SharedSecret is a static password known to both gateway and backend.
type SharedSecret string

func (s SharedSecret) Password(Identity) (string, error) {
	return string(s), nil
}

// FernetCredential seals the identity triple in a Fernet token so the backend
// can check that the password was minted for this exact identity.
type FernetCredential struct {
	key *fernet.Key
}

// NewFernetCredential decodes a base64 Fernet key.
func NewFernetCredential(encodedKey string) (*FernetCredential, error) {
	key, err := fernet.DecodeKey(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("decode fernet key: %w", err)
	}
	return &FernetCredential{key: key}, nil
}

func (c *FernetCredential) Password(id Identity) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(id.String()), c.key)
	if err != nil {
		return "", fmt.Errorf("seal identity: %w", err)
	}
	return string(tok), nil
}

// VerifyFernetPassword is the backend-side check for FernetCredential: the
// password must decrypt under one of keys, be younger than ttl, and contain
// exactly the presented identity.
func VerifyFernetPassword(password, identity string, ttl time.Duration, keys ...*fernet.Key) bool {
	msg := fernet.VerifyAndDecrypt([]byte(password), ttl, keys)
	if msg == nil {
		return false
	}
	return subtle.ConstantTimeCompare(msg, []byte(identity)) == 1
}

// NewCredential builds the credential selected by mode ("secret" or "fernet").
func NewCredential(mode, secret, fernetKey string) (Credential, error) {
	switch mode {
	case "", "secret":
		return SharedSecret(secret), nil
	case "fernet":
		if fernetKey == "" {
			return nil, fmt.Errorf("fernet credential requires a key")
		}
		return NewFernetCredential(fernetKey)
	default:
		return nil, fmt.Errorf("unknown backend credential mode %q", mode)
	}
}
