// Package ids generates prefixed, K-sortable identifiers ("call_01h...") for
// platform entities.
package ids

import (
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in an ID.
type Prefix string

const (
	PrefixCall        Prefix = "call"
	PrefixChatRoom    Prefix = "room"
	PrefixMessage     Prefix = "msg"
	PrefixTransaction Prefix = "txn"
	PrefixRedemption  Prefix = "rdm"
	PrefixAudit       Prefix = "audit"
	PrefixConfig      Prefix = "cfg"
)

// New returns a new ID with the given prefix.
// It panics on an invalid prefix; prefixes are compile-time constants.
func New(prefix Prefix) string {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("ids: invalid prefix %q: %v", prefix, err))
	}
	return tid.String()
}

// HasPrefix reports whether s is a well-formed ID of the given type.
func HasPrefix(s string, prefix Prefix) bool {
	if s == "" {
		return false
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return false
	}
	return tid.Prefix() == string(prefix)
}
