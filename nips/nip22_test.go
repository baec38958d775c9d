// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/relay/database"
	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
	"github.com/ice-blockchain/relay/storage"
)

func helperModerationOnly(store database.EventStore, _ clock.Clock) []*plugin.Plugin {
	return []*plugin.Plugin{NIP22(), NIP01(store)}
}

func TestModeration(t *testing.T) {
	t.Parallel()

	blockedKey := nostr.GeneratePrivateKey()
	blockedPubkey, err := nostr.GetPublicKey(blockedKey)
	require.NoError(t, err)
	relay := helperNewRelay(t, map[string]any{"nip-22": map[string]any{
		"enabled":                   true,
		"bannedKinds":               []int{4},
		"blockedPubkeys":            []string{blockedPubkey},
		"requireContentKinds":       []int{1},
		"blockedWords":              []string{"Casino"},
		"blockedPatterns":           []string{`buy\s+now`},
		"requireTargetForReactions": true,
		"allowReplaceableKinds":     false,
	}}, helperModerationOnly)

	key := nostr.GeneratePrivateKey()
	for name, tc := range map[string]struct {
		ev     *model.Event
		reason string
	}{
		"banned kind":          {ev: helperNewEvent(t, key, 4, "dm", model.Tags{}), reason: ReasonKindBanned},
		"blocked author":       {ev: helperNewEvent(t, blockedKey, 1, "hi", model.Tags{}), reason: ReasonBlockedAuthor},
		"empty content":        {ev: helperNewEvent(t, key, 1, "  ", model.Tags{}), reason: ReasonEmptyContent},
		"blocked word":         {ev: helperNewEvent(t, key, 1, "best CASINO in town", model.Tags{}), reason: ReasonBlockedContent},
		"blocked pattern":      {ev: helperNewEvent(t, key, 1, "buy   now", model.Tags{}), reason: ReasonBlockedPattern},
		"reaction target":      {ev: helperNewEvent(t, key, model.KindReaction, "+", model.Tags{}), reason: ReasonReactionTarget},
		"replaceable disabled": {ev: helperNewEvent(t, key, 10_002, "", model.Tags{}), reason: ReasonReplaceableDisabled},
		"addressable disabled": {ev: helperNewEvent(t, key, 30_023, "article", model.Tags{{"d", "a"}}), reason: ReasonReplaceableDisabled},
		"plain note":           {ev: helperNewEvent(t, key, 1, "hello", model.Tags{})},
		"targeted reaction":    {ev: helperNewEvent(t, key, model.KindReaction, "+", model.Tags{{"e", "abc"}})},
		"addressed reaction":   {ev: helperNewEvent(t, key, model.KindReaction, "+", model.Tags{{"a", "30023:abc:d"}})},
	} {
		t.Run(name, func(t *testing.T) {
			helperRequireSent(t, []string{helperOK(tc.ev.ID, tc.reason == "", tc.reason)}, relay.publish(t, tc.ev))
		})
	}
}

func TestModerationDisabled(t *testing.T) {
	t.Parallel()

	relay := helperNewRelay(t, map[string]any{"nip-22": map[string]any{"enabled": false, "bannedKinds": []int{1}}}, helperModerationOnly)
	ev := helperNewEvent(t, nostr.GeneratePrivateKey(), 1, "hello", model.Tags{})
	helperRequireSent(t, []string{helperOK(ev.ID, true, "")}, relay.publish(t, ev))
}

func TestModerationInvalidPattern(t *testing.T) {
	t.Parallel()

	relay := helperNewRelay(t, nil, helperModerationOnly)
	ctx := context.Background()

	cfg := storage.Default()
	cfg.Plugins["nip-22"] = map[string]any{"blockedPatterns": []string{"ok", "(unclosed"}}
	require.ErrorIs(t, relay.mgr.ValidateConfig(ctx, cfg), plugin.ErrInvalidConfig)

	// A broken pattern that reaches storage anyway fails dispatch instead of being skipped.
	require.NoError(t, relay.cfg.SetPluginConfig(ctx, "nip-22", map[string]any{"blockedPatterns": []string{"(unclosed"}}))
	ev := helperNewEvent(t, nostr.GeneratePrivateKey(), 1, "hello", model.Tags{})
	msg, err := model.ParseMessage([]byte(helperEventMessage(t, model.LabelEvent, ev)))
	require.NoError(t, err)
	_, err = relay.mgr.OnMessage(ctx, relay.conn, msg)
	require.ErrorIs(t, err, plugin.ErrInvalidConfig)
	require.Empty(t, *relay.sent)
}
