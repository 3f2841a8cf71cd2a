package models

// Profile holds the author display fields used to enrich bare change-feed
// rows before delivery. Backed by the profiles table.
type Profile struct {
	ID     string `json:"id" redis:"id"`
	Name   string `json:"name" redis:"name"`
	Handle string `json:"handle" redis:"handle"`
	Avatar string `json:"avatar" redis:"avatar"`
}

// FallbackProfile is substituted when an enrichment lookup fails. Delivery
// must never be dropped because of a secondary lookup failure.
func FallbackProfile(userID string) Profile {
	return Profile{ID: userID, Name: "Unknown User"}
}

// Identity is the authenticated user as reported by the auth service.
type Identity struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Handle string `json:"handle"`
	Avatar string `json:"avatar"`
}
