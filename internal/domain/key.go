package domain

import (
	"fmt"
	"strings"
)

type KeyKind int

const (
	// Address of a single asset, e.g. "cards/back.png"
	KeyKindAddress KeyKind = iota + 1
	// Label shared by a group of assets. Loading a label resolves the first match.
	KeyKindLabel
	// Stable reference ID of an asset, independent of its address
	KeyKindReference
)

func (k KeyKind) String() string {
	switch k {
	case KeyKindAddress:
		return "address"
	case KeyKindLabel:
		return "label"
	case KeyKindReference:
		return "reference"
	}
	return "unknown"
}

// Key identifies a loadable asset.
//
// Key is comparable, so two keys refer to the same asset iff they are ==.
// The zero Key is invalid.
type Key struct {
	kind  KeyKind
	value string
}

func AddressKey(address string) Key {
	return Key{kind: KeyKindAddress, value: address}
}

func LabelKey(label string) Key {
	return Key{kind: KeyKindLabel, value: label}
}

func ReferenceKey(reference string) Key {
	return Key{kind: KeyKindReference, value: strings.ToLower(reference)}
}

func (k Key) Kind() KeyKind {
	return k.kind
}

func (k Key) Value() string {
	return k.value
}

func (k Key) IsZero() bool {
	return k == Key{}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s", k.kind, k.value)
}

// ParseKey parses the String() representation of a key.
// Input without a known kind prefix is treated as an address.
func ParseKey(raw string) (Key, error) {
	kind, value, found := strings.Cut(raw, ":")
	if found {
		switch kind {
		case "address":
			raw = value
		case "label":
			if value == "" {
				return Key{}, fmt.Errorf("%w: empty label", ErrInvalidKey)
			}
			return LabelKey(value), nil
		case "reference":
			if value == "" {
				return Key{}, fmt.Errorf("%w: empty reference", ErrInvalidKey)
			}
			return ReferenceKey(value), nil
		}
	}

	if raw == "" {
		return Key{}, fmt.Errorf("%w: empty address", ErrInvalidKey)
	}
	return AddressKey(raw), nil
}
