// SPDX-License-Identifier: ice License 1.0

package query

import (
	"slices"
	"strconv"
	"strings"

	"github.com/ice-blockchain/relay/model"
)

const (
	whereBuilderDefaultWhere = "1=1"
	likeEscape               = '!'
)

type whereBuilder struct {
	Params map[string]any
	name   string
	strings.Builder
}

func filterName(i int) string {
	return "filter" + strconv.Itoa(i) + "_"
}

func newWhereBuilder(filterName string) *whereBuilder {
	return &whereBuilder{
		Params: make(map[string]any),
		name:   filterName,
	}
}

// Build renders one filter into a where clause over `events e` with named parameters.
func (w *whereBuilder) Build(filter *model.Filter) (where string, params map[string]any) {
	w.applyPrefixes("e.id", "id", filter.IDs)
	w.applyPrefixes("e.pubkey", "author", filter.Authors)
	buildFromSlice(w, "kind", filter.Kinds, "e.kind")
	w.applyTimeRange(filter.Since, filter.Until)
	w.applyFilterTags(filter.Tags)

	if w.Len() == 0 {
		return whereBuilderDefaultWhere, w.Params
	}

	return w.String(), w.Params
}

func (w *whereBuilder) addParam(name string, value any) (key string) {
	key = w.name + name
	w.Params[key] = value

	return key
}

func deduplicateSlice[T comparable](s []T) []T {
	seen := make(map[T]struct{}, len(s))
	res := make([]T, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		res = append(res, v)
	}

	return res
}

func buildFromSlice[T comparable](builder *whereBuilder, name string, s []T, column string) *whereBuilder {
	if len(s) == 0 {
		return builder
	}

	builder.maybeAND()
	builder.WriteString(column)
	s = deduplicateSlice(s)
	if len(s) == 1 {
		// X = :X_name.
		builder.WriteString(" = :")
		builder.WriteString(builder.addParam(name, s[0]))

		return builder
	}

	// X in (:X_name0, :X_name1, ...).
	builder.WriteString(" IN (")
	for i := range s {
		if i > 0 {
			builder.WriteRune(',')
		}
		builder.WriteRune(':')
		builder.WriteString(builder.addParam(name+strconv.Itoa(i), s[i]))
	}
	builder.WriteRune(')')

	return builder
}

func (w *whereBuilder) isOnBegin() bool {
	s := w.String()

	return s[len(s)-1] == '('
}

func (w *whereBuilder) maybeAND() {
	if w.Len() == 0 || w.isOnBegin() {
		return
	}

	w.WriteString(" AND ")
}

func (w *whereBuilder) maybeOR() {
	if w.Len() == 0 || w.isOnBegin() {
		return
	}

	w.WriteString(" OR ")
}

// applyPrefixes renders (column LIKE :p0 OR column LIKE :p1 ...) for case-sensitive prefix matching.
func (w *whereBuilder) applyPrefixes(column, name string, prefixes []string) {
	if len(prefixes) == 0 {
		return
	}

	w.maybeAND()
	w.WriteRune('(')
	for i, prefix := range deduplicateSlice(prefixes) {
		w.maybeOR()
		w.WriteString(column)
		w.WriteString(" LIKE :")
		w.WriteString(w.addParam(name+strconv.Itoa(i), escapeLike(prefix)+"%"))
		w.WriteString(" ESCAPE '")
		w.WriteRune(likeEscape)
		w.WriteRune('\'')
	}
	w.WriteRune(')')
}

func (w *whereBuilder) applyTimeRange(since, until *model.Timestamp) {
	if since != nil && until != nil && *since == *until {
		w.maybeAND()
		w.WriteString("e.created_at = :")
		w.WriteString(w.addParam("timestamp", int64(*since)))

		return
	}

	// If a filter includes the `since` property, events with `created_at` greater than or equal to since are considered to match the filter.
	if since != nil {
		w.maybeAND()
		w.WriteString("e.created_at >= :")
		w.WriteString(w.addParam("since", int64(*since)))
	}

	// The `until` property is similar except that `created_at` must be less than or equal to `until`.
	if until != nil {
		w.maybeAND()
		w.WriteString("e.created_at <= :")
		w.WriteString(w.addParam("until", int64(*until)))
	}
}

func (w *whereBuilder) applyFilterTags(tags model.TagMap) {
	names := make([]string, 0, len(tags))
	for name, values := range tags {
		if model.IsTagFilterName(name) && len(values) > 0 {
			names = append(names, name)
		}
	}
	// Sorted so equal filters render equal statements and hit the statement cache.
	slices.Sort(names)

	for tagID, name := range names {
		w.maybeAND()
		w.WriteString("EXISTS (select 42 from event_tags t where t.event_id = e.id AND t.name = :")
		w.WriteString(w.addParam("tag"+strconv.Itoa(tagID), name))
		buildFromSlice(w, "tag"+strconv.Itoa(tagID)+"_value", tags[name], "t.value")
		w.WriteRune(')')
	}
}

func escapeLike(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r == '%' || r == '_' || r == likeEscape {
			b.WriteRune(likeEscape)
		}
		b.WriteRune(r)
	}

	return b.String()
}
