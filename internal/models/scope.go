package models

import (
	"fmt"
	"strings"
)

// ScopeKind distinguishes the two conversation containers the app supports.
type ScopeKind string

const (
	// ScopeGroup is a campus group conversation.
	ScopeGroup ScopeKind = "group"

	// ScopeDirect is a one-to-one conversation between two users.
	ScopeDirect ScopeKind = "direct"
)

// Scope identifies exactly one conversation: a group or a direct-message
// pair. Messages and change-feed subscriptions are partitioned by scope.
type Scope struct {
	Kind ScopeKind
	ID   string
}

// GroupScope returns the scope for a group conversation.
func GroupScope(groupID string) Scope {
	return Scope{Kind: ScopeGroup, ID: groupID}
}

// DirectScope returns the canonical scope for a direct conversation between
// two users. The key is order-independent so both participants resolve to
// the same scope.
func DirectScope(userA, userB string) Scope {
	if userB < userA {
		userA, userB = userB, userA
	}
	return Scope{Kind: ScopeDirect, ID: userA + ":" + userB}
}

// Valid reports whether the scope identifies a conversation.
func (s Scope) Valid() bool {
	if s.ID == "" {
		return false
	}
	return s.Kind == ScopeGroup || s.Kind == ScopeDirect
}

// Key returns a stable string key for maps and log fields.
func (s Scope) Key() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}

// Column returns the messages-table column that partitions this scope.
func (s Scope) Column() string {
	if s.Kind == ScopeDirect {
		return "dm_key"
	}
	return "group_id"
}

// Filter returns the PostgREST filter expression selecting this scope's rows.
func (s Scope) Filter() string {
	return fmt.Sprintf("%s=eq.%s", s.Column(), s.ID)
}

// Topic returns the realtime channel topic for this scope's message rows.
func (s Scope) Topic() string {
	return fmt.Sprintf("realtime:public:messages:%s", s.Filter())
}

// ParseScopeKey is the inverse of Key. Used by the websocket relay which
// carries scopes as path segments.
func ParseScopeKey(key string) (Scope, error) {
	kind, id, ok := strings.Cut(key, ":")
	if !ok {
		return Scope{}, fmt.Errorf("malformed scope key %q", key)
	}
	s := Scope{Kind: ScopeKind(kind), ID: id}
	if !s.Valid() {
		return Scope{}, fmt.Errorf("invalid scope key %q", key)
	}
	return s, nil
}
