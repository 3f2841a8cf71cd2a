package models

import "testing"

func TestDirectScope_Canonical(t *testing.T) {
	a := DirectScope("alice", "bob")
	b := DirectScope("bob", "alice")
	if a != b {
		t.Fatalf("participant order changed the scope: %v vs %v", a, b)
	}
	if a.ID != "alice:bob" {
		t.Fatalf("canonical id = %q, want lexicographic order", a.ID)
	}
}

func TestScope_Valid(t *testing.T) {
	cases := []struct {
		name  string
		scope Scope
		want  bool
	}{
		{"group", GroupScope("g1"), true},
		{"direct", DirectScope("a", "b"), true},
		{"empty id", Scope{Kind: ScopeGroup}, false},
		{"unknown kind", Scope{Kind: "channel", ID: "x"}, false},
		{"zero", Scope{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.scope.Valid(); got != tc.want {
				t.Fatalf("Valid() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestScope_FilterAndTopic(t *testing.T) {
	g := GroupScope("g1")
	if got := g.Filter(); got != "group_id=eq.g1" {
		t.Fatalf("group filter = %q", got)
	}
	if got := g.Topic(); got != "realtime:public:messages:group_id=eq.g1" {
		t.Fatalf("group topic = %q", got)
	}

	d := DirectScope("bob", "alice")
	if got := d.Filter(); got != "dm_key=eq.alice:bob" {
		t.Fatalf("direct filter = %q", got)
	}
}

func TestParseScopeKey_RoundTrip(t *testing.T) {
	for _, scope := range []Scope{GroupScope("g1"), DirectScope("alice", "bob")} {
		parsed, err := ParseScopeKey(scope.Key())
		if err != nil {
			t.Fatalf("parse %q: %v", scope.Key(), err)
		}
		if parsed != scope {
			t.Fatalf("round trip %q -> %v", scope.Key(), parsed)
		}
	}

	for _, bad := range []string{"", "group", "channel:x", ":id"} {
		if _, err := ParseScopeKey(bad); err == nil {
			t.Fatalf("ParseScopeKey(%q) accepted malformed input", bad)
		}
	}
}
