package models

import "time"

// User is an entry in the user directory. Viewer users observe the room but
// cannot be addressed directly and are excluded from webhook fan-out.
type User struct {
	Username   string    `db:"username" json:"username"`
	APIKey     string    `db:"api_key" json:"-"`
	WebhookURL *string   `db:"webhook_url" json:"webhook_url,omitempty"`
	Viewer     bool      `db:"viewer" json:"viewer"`
	Admin      bool      `db:"admin" json:"admin"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// HasWebhook reports whether the user has a registered push endpoint.
func (u User) HasWebhook() bool {
	return u.WebhookURL != nil && *u.WebhookURL != ""
}
