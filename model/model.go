// SPDX-License-Identifier: ice License 1.0

package model

import (
	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

type (
	TagMap    = nostr.TagMap
	Tag       = nostr.Tag
	Tags      = nostr.Tags
	Timestamp = nostr.Timestamp
	Kind      = int
	Filter    = nostr.Filter
	Filters   = nostr.Filters
)

var (
	ErrEventNotFound  = errors.New("event not found")
	ErrInvalidMessage = errors.New("invalid message")
)

const (
	KindDeletion             Kind = nostr.KindDeletion
	KindReaction             Kind = nostr.KindReaction
	KindChannelMessage       Kind = 42
	KindMLSKeyPackage        Kind = 443
	KindMLSWelcome           Kind = 444
	KindMLSGroupEvent        Kind = 445
	KindFileMetadata         Kind = nostr.KindFileMetadata
	KindClientAuthentication Kind = nostr.KindClientAuthentication
)

const (
	TagEvent          = "e"
	TagAddress        = "a"
	TagPubKey         = "p"
	TagExpiration     = "expiration"
	TagChallenge      = "challenge"
	TagRelay          = "relay"
	TagRelays         = "relays"
	TagIMeta          = "imeta"
	TagURL            = "url"
	TagSHA256         = "x"
	TagOriginalSHA256 = "ox"
)

// IsReplaceableKind reports whether kind falls into the replaceable or addressable ranges.
func IsReplaceableKind(kind Kind) bool {
	return (kind >= 10_000 && kind < 20_000) || (kind >= 30_000 && kind < 40_000)
}
