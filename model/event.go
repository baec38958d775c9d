// SPDX-License-Identifier: ice License 1.0

package model

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"strconv"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip13"
)

type (
	Event struct {
		nostr.Event
	}
)

// ComputeID hashes the canonical `[0,pubkey,created_at,kind,tags,content]` form of the event.
func (e *Event) ComputeID() string {
	hash := sha256.Sum256(e.Serialize())

	return hex.EncodeToString(hash[:])
}

func (e *Event) CheckID() bool {
	return e.ID == e.ComputeID()
}

// VerifySignature checks the BIP-340 signature over the id bytes. It never fails with an error:
// anything malformed yields false.
func (e *Event) VerifySignature() (valid bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("WARN: signature verification for event %q panicked: %v", e.ID, r)
			valid = false
		}
	}()

	id, err := hex.DecodeString(e.ID)
	if err != nil || len(id) != sha256.Size {
		return false
	}
	pkBytes, err := hex.DecodeString(e.PubKey)
	if err != nil || len(pkBytes) != schnorr.PubKeyBytesLen {
		return false
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil || len(sigBytes) != schnorr.SignatureSize {
		return false
	}
	pk, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}

	return sig.Verify(id, pk)
}

// Verify is CheckID followed by VerifySignature.
func (e *Event) Verify() bool {
	return e.CheckID() && e.VerifySignature()
}

// Difficulty counts the leading zero bits of the id.
func (e *Event) Difficulty() int {
	if len(e.ID) != 2*sha256.Size {
		return 0
	}

	return max(nip13.Difficulty(e.ID), 0)
}

// Size is the length of the event's JSON form in bytes.
func (e *Event) Size() int {
	data, err := e.Event.MarshalJSON()
	if err != nil {
		log.Printf("WARN: failed to marshal event %q: %v", e.ID, err)

		return 0
	}

	return len(data)
}

func (e *Event) GetTag(tagName string) Tag {
	for _, tag := range e.Tags {
		if tag.Key() == tagName {
			return tag
		}
	}

	return nil
}

func (e *Event) HasTag(tagName string) bool {
	return e.GetTag(tagName) != nil
}

// TagValues collects the second element of every tag named tagName.
func (e *Event) TagValues(tagName string) []string {
	var values []string
	for _, tag := range e.Tags {
		if tag.Key() == tagName && len(tag) > 1 {
			values = append(values, tag[1])
		}
	}

	return values
}

// Expiration returns the `expiration` tag value, ok is false when the tag is absent or not a number.
func (e *Event) Expiration() (ts Timestamp, ok bool) {
	tag := e.GetTag(TagExpiration)
	if len(tag) < 2 {
		return 0, false
	}
	val, err := strconv.ParseInt(tag.Value(), 10, 64)
	if err != nil {
		return 0, false
	}

	return Timestamp(val), true
}

// Sign sets pubkey, id and signature from a hex private key.
func (e *Event) Sign(privateKey string) error {
	if e.Tags == nil {
		e.Tags = make(Tags, 0)
	}

	return errors.Wrap(e.Event.Sign(privateKey), "failed to sign event")
}
