package model

// User is one presence entry: an active connection with display metadata.
// The ID is the ephemeral connection identity, not a durable account.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}
