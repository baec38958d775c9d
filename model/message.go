// SPDX-License-Identifier: ice License 1.0

package model

import (
	"github.com/cockroachdb/errors"
	"github.com/mailru/easyjson"
	"github.com/tidwall/gjson"
)

type (
	// Message is a parsed inbound client message.
	Message interface {
		Label() string
	}
	EventMessage struct {
		Event *Event
	}
	AuthMessage struct {
		Event *Event
	}
	ReqMessage struct {
		SubscriptionID string
		Filters        Filters
	}
	CountMessage struct {
		SubscriptionID string
		Filters        Filters
	}
	CloseMessage struct {
		SubscriptionID string
	}
)

const (
	LabelEvent = "EVENT"
	LabelReq   = "REQ"
	LabelClose = "CLOSE"
	LabelAuth  = "AUTH"
	LabelCount = "COUNT"
)

func (*EventMessage) Label() string { return LabelEvent }
func (*AuthMessage) Label() string  { return LabelAuth }
func (*ReqMessage) Label() string   { return LabelReq }
func (*CountMessage) Label() string { return LabelCount }
func (*CloseMessage) Label() string { return LabelClose }

// ParseMessage decodes `["EVENT", event]`, `["REQ", sub, filter...]`, `["CLOSE", sub]`,
// `["AUTH", event]` and `["COUNT", sub, filter...]`. Anything else is ErrInvalidMessage.
func ParseMessage(raw []byte) (Message, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.Wrap(ErrInvalidMessage, "malformed json")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsArray() {
		return nil, errors.Wrap(ErrInvalidMessage, "not an array")
	}
	slots := root.Array()
	if len(slots) == 0 || slots[0].Type != gjson.String {
		return nil, errors.Wrap(ErrInvalidMessage, "missing label")
	}

	switch label := slots[0].Str; label {
	case LabelEvent, LabelAuth:
		if len(slots) < 2 {
			return nil, errors.Wrapf(ErrInvalidMessage, "%v: missing event", label)
		}
		ev, err := parseEvent(slots[1])
		if err != nil {
			return nil, errors.Wrapf(err, "%v", label)
		}
		if label == LabelAuth {
			return &AuthMessage{Event: ev}, nil
		}

		return &EventMessage{Event: ev}, nil

	case LabelReq, LabelCount:
		subID, err := parseSubscriptionID(label, slots)
		if err != nil {
			return nil, err
		}
		filters, err := parseFilters(slots[2:])
		if err != nil {
			return nil, errors.Wrapf(err, "%v", label)
		}
		if label == LabelCount {
			return &CountMessage{SubscriptionID: subID, Filters: filters}, nil
		}

		return &ReqMessage{SubscriptionID: subID, Filters: filters}, nil

	case LabelClose:
		subID, err := parseSubscriptionID(label, slots)
		if err != nil {
			return nil, err
		}

		return &CloseMessage{SubscriptionID: subID}, nil

	default:
		return nil, errors.Wrapf(ErrInvalidMessage, "unknown label %q", label)
	}
}

func parseSubscriptionID(label string, slots []gjson.Result) (string, error) {
	if len(slots) < 2 || slots[1].Type != gjson.String {
		return "", errors.Wrapf(ErrInvalidMessage, "%v: missing subscription id", label)
	}

	return slots[1].Str, nil
}

func parseEvent(slot gjson.Result) (*Event, error) {
	if !slot.IsObject() {
		return nil, errors.Wrap(ErrInvalidMessage, "event is not an object")
	}
	ev := new(Event)
	if err := easyjson.Unmarshal([]byte(slot.Raw), &ev.Event); err != nil {
		return nil, errors.Wrapf(ErrInvalidMessage, "failed to decode event: %v", err)
	}

	return ev, nil
}

func parseFilters(slots []gjson.Result) (Filters, error) {
	filters := make(Filters, len(slots))
	for i := range slots {
		if !slots[i].IsObject() {
			return nil, errors.Wrapf(ErrInvalidMessage, "filter %d is not an object", i)
		}
		if err := easyjson.Unmarshal([]byte(slots[i].Raw), &filters[i]); err != nil {
			return nil, errors.Wrapf(ErrInvalidMessage, "failed to decode filter %d: %v", i, err)
		}
	}

	return filters, nil
}
