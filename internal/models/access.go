package models

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
)

// AccessPolicy decides whether a retrieval may proceed. It has exactly two
// variants: open access, and access gated by a password hash.
//
// The hash is an unsalted SHA-256 hex digest. It keeps casual link holders
// out; it is not meant to protect the password itself against offline attack.
type AccessPolicy struct {
	hash string
}

// OpenAccess returns the policy that permits every request.
func OpenAccess() AccessPolicy {
	return AccessPolicy{}
}

// PasswordGated returns a policy that only permits the password whose digest is hash.
// An empty hash yields open access.
func PasswordGated(hash string) AccessPolicy {
	return AccessPolicy{hash: hash}
}

// PolicyForPassword hashes password once and returns the matching policy.
// An empty password means no gate.
func PolicyForPassword(password string) AccessPolicy {
	if password == "" {
		return OpenAccess()
	}
	return PasswordGated(HashPassword(password))
}

// HashPassword returns the hex SHA-256 digest of password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Protected reports whether the policy is the password-gated variant.
func (p AccessPolicy) Protected() bool {
	return p.hash != ""
}

// Hash returns the stored digest, empty for open access.
func (p AccessPolicy) Hash() string {
	return p.hash
}

// Permits reports whether supplied satisfies the policy.
func (p AccessPolicy) Permits(supplied string) bool {
	if !p.Protected() {
		return true
	}
	if supplied == "" {
		return false
	}
	got := HashPassword(supplied)
	return subtle.ConstantTimeCompare([]byte(got), []byte(p.hash)) == 1
}

type accessPolicyJSON struct {
	PasswordHash *string `json:"password_hash"`
}

func (p AccessPolicy) MarshalJSON() ([]byte, error) {
	var v accessPolicyJSON
	if p.Protected() {
		h := p.hash
		v.PasswordHash = &h
	}
	return json.Marshal(v)
}

func (p *AccessPolicy) UnmarshalJSON(data []byte) error {
	var v accessPolicyJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v.PasswordHash == nil {
		*p = OpenAccess()
		return nil
	}
	*p = PasswordGated(*v.PasswordHash)
	return nil
}
