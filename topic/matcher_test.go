package topic

import "testing"

func TestMatchesWildcardExact(t *testing.T) {
	if !MatchesWildcard("home/kitchen/temp", "home/kitchen/temp") {
		t.Fatal("expected exact match")
	}
	if MatchesWildcard("home/kitchen/temp", "home/kitchen/humidity") {
		t.Fatal("expected no match")
	}
}

func TestMatchesWildcardSingleLevel(t *testing.T) {
	if !MatchesWildcard("home/+/temp", "home/kitchen/temp") {
		t.Fatal("+ should match a single level")
	}
	if MatchesWildcard("home/+/temp", "home/kitchen/bath/temp") {
		t.Fatal("+ should not match multiple levels")
	}
	if !MatchesWildcard("home/+/temp", "home//temp") {
		t.Fatal("+ should match an empty level")
	}
}

func TestMatchesWildcardMultiLevel(t *testing.T) {
	if !MatchesWildcard("home/#", "home") {
		t.Fatal("# should match its own parent level")
	}
	if !MatchesWildcard("home/#", "home/kitchen") {
		t.Fatal("# should match one level")
	}
	if !MatchesWildcard("home/#", "home/kitchen/temp") {
		t.Fatal("# should match multiple levels")
	}
	if !MatchesWildcard("#", "anything/at/all") {
		t.Fatal("bare # should match everything non-reserved")
	}
}

func TestMatchesWildcardDollarExclusion(t *testing.T) {
	if MatchesWildcard("#", "$SYS/broker/uptime") {
		t.Fatal("leading wildcard filter must not match $ topics")
	}
	if MatchesWildcard("+/broker/uptime", "$SYS/broker/uptime") {
		t.Fatal("leading + must not match $ topics")
	}
	if !MatchesWildcard("$SYS/#", "$SYS/broker/uptime") {
		t.Fatal("explicit $SYS filter should still match")
	}
}

func TestValidateFilter(t *testing.T) {
	valid := []string{"a/b/c", "+", "#", "a/+/c", "a/#", "+/+", "sport/tennis/#"}
	for _, f := range valid {
		if err := ValidateFilter(f); err != nil {
			t.Errorf("ValidateFilter(%q) = %v, want nil", f, err)
		}
	}

	invalid := map[string]error{
		"":        ErrEmptyFilter,
		"a/#/b":   ErrMultiLevelNotLast,
		"a+/b":    ErrWildcardAbuts,
		"a/b#":    ErrWildcardAbuts,
		"a/b\x00": ErrEmbeddedNull,
	}
	for f, wantErr := range invalid {
		if err := ValidateFilter(f); err != wantErr {
			t.Errorf("ValidateFilter(%q) = %v, want %v", f, err, wantErr)
		}
	}
}
