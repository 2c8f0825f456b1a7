package models

import "time"

// Session binds an authenticated user to one live connection. Persistent
// connections reuse it across commands; it is never shared between
// connections and dies with its socket.
type Session struct {
	ConnectionID  string    `json:"connection_id"`
	UserID        string    `json:"user_id"`
	Role          UserRole  `json:"role"`
	EstablishedAt time.Time `json:"established_at"`
}

// IsAdmin reports whether the session belongs to an admin.
func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}
