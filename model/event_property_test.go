// SPDX-License-Identifier: ice License 1.0

package model

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/nbd-wtf/go-nostr"
)

func TestPropertySignedEventsVerify(t *testing.T) {
	t.Parallel()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)
	sk := nostr.GeneratePrivateKey()

	properties.Property("signed events verify and their id is the canonical hash", prop.ForAll(
		func(content, tagValue string, kind int) bool {
			ev := &Event{Event: nostr.Event{
				Kind:      kind,
				CreatedAt: nostr.Now(),
				Content:   content,
				Tags:      Tags{{"t", tagValue}},
			}}
			if ev.Sign(sk) != nil {
				return false
			}

			return ev.Verify() && ev.ComputeID() == ev.ID
		},
		gen.AnyString(),
		gen.AlphaString(),
		gen.IntRange(0, 65535),
	))

	properties.Property("tampering content or tags breaks verification", prop.ForAll(
		func(content, suffix string, tamperTags bool) bool {
			ev := &Event{Event: nostr.Event{
				Kind:      nostr.KindTextNote,
				CreatedAt: nostr.Now(),
				Content:   content,
				Tags:      Tags{{"t", "x"}},
			}}
			if ev.Sign(sk) != nil {
				return false
			}
			if tamperTags {
				ev.Tags = Tags{{"t", "x" + suffix}}
			} else {
				ev.Content = content + suffix
			}

			return !ev.Verify()
		},
		gen.AnyString(),
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
