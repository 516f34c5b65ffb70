// Package message maintains the per-contact outreach message key-space.
package message

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Key addresses one generated message: an affiliate alone (legacy or
// primary-contact case) or an affiliate plus a contact email.
//
// Keys must only be built with NewKey or ParseKey so that the read and write
// paths derive identical values.
type Key struct {
	AffiliateID int64
	Email       string
}

// NewKey derives the key for an affiliate and optional contact email. The
// email is trimmed and lowercased.
func NewKey(affiliateID int64, email string) Key {
	return Key{
		AffiliateID: affiliateID,
		Email:       strings.ToLower(strings.TrimSpace(email)),
	}
}

// String returns the canonical serialization: "42" or "42:a@x.com".
func (k Key) String() string {
	id := strconv.FormatInt(k.AffiliateID, 10)
	if k.Email == "" {
		return id
	}
	return id + ":" + k.Email
}

// IsBare reports whether the key has no contact email.
func (k Key) IsBare() bool {
	return k.Email == ""
}

// ParseKey inverts Key.String.
func ParseKey(s string) (Key, error) {
	idPart, email, _ := strings.Cut(s, ":")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return Key{}, eris.Wrapf(err, "message: parse key %q", s)
	}
	return NewKey(id, email), nil
}

// MarshalText implements encoding.TextMarshaler so keys work as JSON map keys.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
