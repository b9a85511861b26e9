package feed

import (
	"testing"

	"github.com/warmindo-dev/forum-relay/gateway"
)

func TestPredicateMatch(t *testing.T) {
	pred := Predicate{TriggerRoleID: "trig", MentionRoleID: "ping"}
	cases := []struct {
		name  string
		roles []string
		want  bool
	}{
		{"exactly trigger", []string{"trig"}, true},
		{"trigger and mention", []string{"trig", "ping"}, true},
		{"superset of both", []string{"other", "trig", "ping"}, true},
		{"trigger plus stray role", []string{"trig", "other"}, false},
		{"mention only", []string{"ping"}, false},
		{"no mentions", nil, false},
		{"unrelated roles", []string{"a", "b"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := pred.Match(tc.roles); got != tc.want {
				t.Errorf("Match(%v) = %v, want %v", tc.roles, got, tc.want)
			}
		})
	}
}

func TestPredicateMatchWithoutMentionRole(t *testing.T) {
	pred := Predicate{TriggerRoleID: "trig"}
	if !pred.Match([]string{"trig"}) {
		t.Error("single trigger mention should match without a mention role configured")
	}
	if pred.Match([]string{"trig", "other"}) {
		t.Error("superset clause requires a configured mention role")
	}
}

func TestPinnedOnlyChange(t *testing.T) {
	base := gateway.Message{Content: "hello", RoleMentions: []string{"a"}, Pinned: false}
	pinned := base
	pinned.Pinned = true

	if !pinnedOnlyChange(&base, pinned) {
		t.Error("pin toggle with identical content should be a pinned-only change")
	}

	edited := pinned
	edited.Content = "hello there"
	if pinnedOnlyChange(&base, edited) {
		t.Error("content change is not a pinned-only change")
	}

	if pinnedOnlyChange(nil, pinned) {
		t.Error("missing before snapshot cannot be classified as pinned-only")
	}

	samePin := base
	samePin.Content = "hello"
	if pinnedOnlyChange(&base, samePin) {
		t.Error("unchanged pin state is not a pinned-only change")
	}
}

func TestSameRoles(t *testing.T) {
	if !sameRoles([]string{"a", "b"}, []string{"b", "a"}) {
		t.Error("order must not matter")
	}
	if sameRoles([]string{"a", "a"}, []string{"a", "b"}) {
		t.Error("multiplicity must matter")
	}
	if sameRoles([]string{"a"}, []string{"a", "b"}) {
		t.Error("length mismatch must not match")
	}
}
