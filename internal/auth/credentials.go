package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

var dummyPasswordHash []byte

func init() {
	dummyPasswordHash, _ = bcrypt.GenerateFromPassword([]byte("dummy_password_for_constant_time"), bcrypt.DefaultCost)
}

// Credentials is the fixed two-identity allowlist. Identities and their
// bcrypt hashes are set once at process start and never change.
type Credentials struct {
	names  [2]string
	hashes map[string]string // canonical name -> bcrypt hash
}

func NewCredentials(name1, hash1, name2, hash2 string) *Credentials {
	return &Credentials{
		names: [2]string{name1, name2},
		hashes: map[string]string{
			name1: hash1,
			name2: hash2,
		},
	}
}

// Identities returns both allowlisted names in declaration order.
func (c *Credentials) Identities() [2]string {
	return c.names
}

// Canonical resolves a case-insensitive identity to its canonical name.
func (c *Credentials) Canonical(identity string) (string, bool) {
	for _, name := range c.names {
		if strings.EqualFold(name, identity) {
			return name, true
		}
	}
	return "", false
}

// Partner returns the fixed chat partner of an allowlisted identity.
func (c *Credentials) Partner(identity string) (string, bool) {
	switch identity {
	case c.names[0]:
		return c.names[1], true
	case c.names[1]:
		return c.names[0], true
	}
	return "", false
}

// Verify checks a secret against the stored hash. Unknown identities
// still run a bcrypt compare against a dummy hash so response timing
// does not reveal which usernames exist.
func (c *Credentials) Verify(identity, secret string) (canonical string, partner string, err error) {
	canonical, ok := c.Canonical(identity)
	if !ok {
		bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(secret))
		return "", "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(c.hashes[canonical]), []byte(secret)); err != nil {
		return "", "", ErrInvalidCredentials
	}

	partner, _ = c.Partner(canonical)
	return canonical, partner, nil
}
