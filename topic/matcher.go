package topic

import (
	"errors"
	"strings"

	"github.com/golang-io/mqtt/packet"
)

// RetainHandling controls whether a broker resends retained messages when a
// subscription is (re)established. Meaningful only under MQTT 5.0; under
// 3.1.1 it is always treated as SendAlways.
type RetainHandling uint8

const (
	// SendAlways resends retained messages on every (re)subscription.
	SendAlways RetainHandling = iota
	// SendIfNew resends retained messages only if the subscription did not
	// already exist.
	SendIfNew
	// Never suppresses retained message delivery on subscribe.
	Never
)

// Filter is one subscription request: a topic filter plus the options the
// client asked the broker to apply to it.
type Filter struct {
	Filter            string
	QoS               uint8
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    RetainHandling

	// Delegate, when non-nil, receives every message whose topic matches
	// this filter, in addition to the client's catch-all handler. It
	// fires at most once per publication even when several of the
	// client's filters match the same topic, because each filter's
	// delegate is registered under its own filter string.
	Delegate func(msg *packet.Message)
}

// SubscribeResult reports the outcome of one filter within a Subscribe
// call. The original Filter is carried alongside Success — including its
// Delegate — so a caller can correlate results positionally or by filter
// text without re-threading the request it made.
type SubscribeResult struct {
	Filter  Filter
	Success bool
}

// UnsubscribeResult reports the outcome of one filter within an
// Unsubscribe call.
type UnsubscribeResult struct {
	Filter  string
	Success bool
}

// Filter validation errors.
var (
	ErrEmptyFilter       = errors.New("topic: filter is empty")
	ErrFilterTooLong     = errors.New("topic: filter exceeds 65535 bytes")
	ErrMultiLevelNotLast = errors.New("topic: '#' must be the last level of the filter")
	ErrWildcardAbuts     = errors.New("topic: '+' or '#' must occupy a whole topic level")
	ErrEmbeddedNull      = errors.New("topic: filter contains an embedded NUL byte")
)

// ValidateFilter rejects the malformed topic filters the protocol
// disallows: empty, over-length, a '#' that is not the final level, a
// '+' or '#' sharing a level with other characters, or an embedded NUL.
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrEmptyFilter
	}
	if len(filter) > 65535 {
		return ErrFilterTooLong
	}
	if strings.IndexByte(filter, 0) >= 0 {
		return ErrEmbeddedNull
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch level {
		case "+":
			continue
		case "#":
			if i != len(levels)-1 {
				return ErrMultiLevelNotLast
			}
		default:
			if strings.Contains(level, "+") || strings.Contains(level, "#") {
				return ErrWildcardAbuts
			}
		}
	}
	return nil
}

// ErrWildcardInTopic rejects a publication topic containing '+' or '#';
// wildcards are only meaningful in subscription filters.
var ErrWildcardInTopic = errors.New("topic: topic name contains a wildcard")

// ValidateTopicName rejects a malformed publication topic: everything
// ValidateFilter rejects, plus any wildcard at all, since a concrete
// publication address has no levels to match against.
func ValidateTopicName(name string) error {
	if name == "" {
		return ErrEmptyFilter
	}
	if len(name) > 65535 {
		return ErrFilterTooLong
	}
	if strings.IndexByte(name, 0) >= 0 {
		return ErrEmbeddedNull
	}
	if strings.ContainsAny(name, "+#") {
		return ErrWildcardInTopic
	}
	return nil
}

// MatchesWildcard reports whether topicName matches filter under the MQTT
// wildcard rules:
//
//   - an exact, wildcard-free filter matches only the identical topic;
//   - '+' matches exactly one topic level, including an empty one;
//   - '#' as the final filter level matches that level and every level
//     after it, including zero of them;
//   - a filter whose first level is '+' or '#' never matches a topic
//     whose first level begins with '$' (reserved topics such as
//     "$SYS/...").
//
// filter is assumed to have already passed ValidateFilter; behavior on an
// invalid filter is unspecified.
func MatchesWildcard(filter, topicName string) bool {
	if filter == topicName {
		return true
	}
	fLevels := strings.Split(filter, "/")
	tLevels := strings.Split(topicName, "/")

	if len(tLevels) > 0 && strings.HasPrefix(tLevels[0], "$") && len(fLevels) > 0 {
		if fLevels[0] == "+" || fLevels[0] == "#" {
			return false
		}
	}

	i := 0
	for ; i < len(fLevels); i++ {
		level := fLevels[i]
		if level == "#" {
			return true
		}
		if i >= len(tLevels) {
			return false
		}
		if level == "+" {
			continue
		}
		if level != tLevels[i] {
			return false
		}
	}
	return i == len(tLevels)
}
