// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr"

	"github.com/ice-blockchain/relay/database"
	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

func helperPowRelay(t *testing.T, minDifficulty int) *testRelay {
	t.Helper()

	return helperNewRelay(t, map[string]any{"nip-13": map[string]any{"minDifficulty": minDifficulty}},
		func(store database.EventStore, _ clock.Clock) []*plugin.Plugin {
			return []*plugin.Plugin{NIP13(), NIP01(store)}
		})
}

// helperMine bumps a nonce tag until the event id has at least difficulty leading zero bits.
func helperMine(t *testing.T, key string, difficulty int) *model.Event {
	t.Helper()

	for nonce := 0; ; nonce++ {
		ev := helperNewEvent(t, key, 1, "mined", model.Tags{{"nonce", strconv.Itoa(nonce), strconv.Itoa(difficulty)}})
		if ev.Difficulty() >= difficulty {
			return ev
		}
	}
}

func TestProofOfWork(t *testing.T) {
	t.Parallel()

	key := nostr.GeneratePrivateKey()
	mined := helperMine(t, key, 6)

	relay := helperPowRelay(t, 6)
	helperRequireSent(t, []string{helperOK(mined.ID, true, "")}, relay.publish(t, mined))

	weak := helperNewEvent(t, key, 1, "weak", model.Tags{})
	strict := helperPowRelay(t, weak.Difficulty()+1)
	reason := fmt.Sprintf("pow:%d<%d", weak.Difficulty(), weak.Difficulty()+1)
	helperRequireSent(t, []string{helperOK(weak.ID, false, reason)}, strict.publish(t, weak))
}

func TestProofOfWorkDisabled(t *testing.T) {
	t.Parallel()

	relay := helperPowRelay(t, 0)
	ev := helperNewEvent(t, nostr.GeneratePrivateKey(), 1, "no work", model.Tags{})
	helperRequireSent(t, []string{helperOK(ev.ID, true, "")}, relay.publish(t, ev))
}
