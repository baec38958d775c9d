// SPDX-License-Identifier: ice License 1.0

package model

import (
	"slices"
	"strings"
)

// Matches applies the relay's filter semantics: ids and authors by prefix, kinds exactly,
// inclusive since/until and single-character tag filters. Empty lists do not constrain.
func Matches(filter *Filter, ev *Event) bool {
	if filter == nil || ev == nil {
		return false
	}
	if len(filter.IDs) > 0 && !hasAnyPrefix(ev.ID, filter.IDs) {
		return false
	}
	if len(filter.Authors) > 0 && !hasAnyPrefix(ev.PubKey, filter.Authors) {
		return false
	}
	if len(filter.Kinds) > 0 && !slices.Contains(filter.Kinds, ev.Kind) {
		return false
	}
	if filter.Since != nil && ev.CreatedAt < *filter.Since {
		return false
	}
	if filter.Until != nil && ev.CreatedAt > *filter.Until {
		return false
	}
	for name, values := range filter.Tags {
		if !IsTagFilterName(name) || len(values) == 0 {
			continue
		}
		if !hasTagValue(ev, name, values) {
			return false
		}
	}

	return true
}

// MatchesAny is true when at least one filter matches.
func MatchesAny(filters Filters, ev *Event) bool {
	for i := range filters {
		if Matches(&filters[i], ev) {
			return true
		}
	}

	return false
}

func IsTagFilterName(name string) bool {
	return len(name) == 1
}

// EffectiveLimit is the filter's limit when positive, zero for an explicit `"limit":0` and def when unset.
func EffectiveLimit(filter *Filter, def int) int {
	if filter.LimitZero {
		return 0
	}
	if filter.Limit > 0 {
		return filter.Limit
	}

	return def
}

func hasAnyPrefix(val string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(val, p) {
			return true
		}
	}

	return false
}

func hasTagValue(ev *Event, name string, values []string) bool {
	for _, tag := range ev.Tags {
		if len(tag) > 1 && tag[0] == name && slices.Contains(values, tag[1]) {
			return true
		}
	}

	return false
}
