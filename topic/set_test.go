package topic

import (
	"sort"
	"testing"
)

func TestMatcherMatch(t *testing.T) {
	m := NewMatcher()
	m.Subscribe("1/2/3")
	m.Subscribe("2/4")
	m.Subscribe("2/+/#")
	m.Subscribe("#")

	cases := []struct {
		topicName string
		want      []string
	}{
		{"1/2/3", []string{"1/2/3", "#"}},
		{"1/2/3/4", []string{"#"}},
		{"2/3/4", []string{"2/+/#", "#"}},
		{"2/3/4/5", []string{"2/+/#", "#"}},
		{"2/4", []string{"2/4", "2/+/#", "#"}},
	}
	for _, c := range cases {
		got := m.Match(c.topicName)
		sort.Strings(got)
		want := append([]string(nil), c.want...)
		sort.Strings(want)
		if !equalStrings(got, want) {
			t.Errorf("Match(%q) = %v, want %v", c.topicName, got, want)
		}
	}

	m.Unsubscribe("#")
	got := m.Match("1/2/3/4")
	if len(got) != 0 {
		t.Errorf("Match after Unsubscribe(#) = %v, want empty", got)
	}
}

func TestMatcherUnsubscribeUnknownIsNoop(t *testing.T) {
	m := NewMatcher()
	m.Subscribe("a/b")
	m.Unsubscribe("never/subscribed")
	if got := m.Match("a/b"); len(got) != 1 {
		t.Errorf("Match(a/b) = %v, want [a/b]", got)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
