// SPDX-License-Identifier: ice License 1.0

package nips

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"

	"github.com/ice-blockchain/relay/model"
	"github.com/ice-blockchain/relay/plugin"
)

type (
	ModerationConfig struct {
		BannedKinds         []int    `json:"bannedKinds"`
		BlockedPubkeys      []string `json:"blockedPubkeys"`
		RequireContentKinds []int    `json:"requireContentKinds"`
		// BlockedWords match content case-insensitively.
		BlockedWords []string `json:"blockedWords"`
		// BlockedPatterns are regular expressions matched against content, compiled by Validate.
		BlockedPatterns           []string `json:"blockedPatterns"`
		patterns                  []*regexp.Regexp
		Enabled                   bool `json:"enabled"`
		RequireTargetForReactions bool `json:"requireTargetForReactions"`
		AllowReplaceableKinds     bool `json:"allowReplaceableKinds"`
	}
	nip22 struct {
		pctx *plugin.Context
	}
)

const (
	ReasonKindBanned          = "blocked:kind-banned"
	ReasonBlockedAuthor       = "blocked:author"
	ReasonEmptyContent        = "invalid:empty-content"
	ReasonBlockedContent      = "blocked:content"
	ReasonBlockedPattern      = "blocked:pattern"
	ReasonReactionTarget      = "invalid:nip22-reaction-target"
	ReasonReplaceableDisabled = "blocked:nip22-replaceable"
)

// Validate compiles BlockedPatterns, any invalid pattern rejects the whole config.
func (c *ModerationConfig) Validate() error {
	var result *multierror.Error
	c.patterns = make([]*regexp.Regexp, 0, len(c.BlockedPatterns))
	for _, pattern := range c.BlockedPatterns {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "invalid blocked pattern %q", pattern))

			continue
		}
		c.patterns = append(c.patterns, compiled)
	}

	return result.ErrorOrNil()
}

// NIP22 is the generic moderation plugin.
func NIP22() *plugin.Plugin {
	p := new(nip22)

	return &plugin.Plugin{
		ID:  "nip-22",
		NIP: 22,
		NewConfig: func() any {
			return &ModerationConfig{
				Enabled:                   true,
				RequireTargetForReactions: true,
				AllowReplaceableKinds:     true,
				BannedKinds:               []int{},
				BlockedPubkeys:            []string{},
				RequireContentKinds:       []int{},
				BlockedWords:              []string{},
				BlockedPatterns:           []string{},
			}
		},
		Schema: plugin.Schema{
			"type": "object",
			"properties": map[string]any{
				"enabled":             booleanSchema("Enable moderation", true),
				"bannedKinds":         integerArraySchema("Banned kinds", "Kinds that are never accepted."),
				"blockedPubkeys":      stringArraySchema("Blocked authors", "Hex public keys that may not publish."),
				"requireContentKinds": integerArraySchema("Kinds requiring content", "Kinds rejected when content is empty."),
				"blockedWords":        stringArraySchema("Blocked words", "Case-insensitive substrings rejected in content."),
				"blockedPatterns": stringArraySchema("Blocked patterns",
					"Regular expressions rejected in content. An invalid expression rejects the configuration."),
				"requireTargetForReactions": booleanSchema("Require reactions to reference a target", true),
				"allowReplaceableKinds":     booleanSchema("Accept replaceable and addressable kinds", true),
			},
		},
		Setup: p.setup,
	}
}

func (p *nip22) setup(_ context.Context, pctx *plugin.Context) error {
	p.pctx = pctx
	pctx.RegisterMessageHandler(p.handle)

	return nil
}

func (p *nip22) handle(ctx context.Context, conn *plugin.Connection, msg model.Message) (bool, error) {
	ev := eventOf(msg)
	if ev == nil {
		return false, nil
	}
	cfg, err := plugin.Config[ModerationConfig](ctx, p.pctx)
	if err != nil || !cfg.Enabled {
		return false, err
	}
	if reason := cfg.verdict(ev); reason != "" {
		return true, conn.OK(ev.ID, false, reason)
	}

	return false, nil
}

func (c *ModerationConfig) verdict(ev *model.Event) string {
	switch {
	case slices.Contains(c.BannedKinds, ev.Kind):
		return ReasonKindBanned
	case slices.Contains(c.BlockedPubkeys, ev.PubKey):
		return ReasonBlockedAuthor
	case slices.Contains(c.RequireContentKinds, ev.Kind) && strings.TrimSpace(ev.Content) == "":
		return ReasonEmptyContent
	case c.hasBlockedWord(ev.Content):
		return ReasonBlockedContent
	case slices.ContainsFunc(c.patterns, func(re *regexp.Regexp) bool { return re.MatchString(ev.Content) }):
		return ReasonBlockedPattern
	case c.RequireTargetForReactions && ev.Kind == model.KindReaction &&
		!ev.HasTag(model.TagEvent) && !ev.HasTag(model.TagAddress):
		return ReasonReactionTarget
	case !c.AllowReplaceableKinds && model.IsReplaceableKind(ev.Kind):
		return ReasonReplaceableDisabled
	default:
		return ""
	}
}

func (c *ModerationConfig) hasBlockedWord(content string) bool {
	if len(c.BlockedWords) == 0 {
		return false
	}
	lowered := strings.ToLower(content)

	return slices.ContainsFunc(c.BlockedWords, func(word string) bool {
		return word != "" && strings.Contains(lowered, strings.ToLower(word))
	})
}
