package models

import "time"

// Session is the server-side record a token's AuthID points at. Sessions are
// never deleted on logout: LogoutAt is set instead, so the record doubles as
// a revocation marker.
type Session struct {
	// ID is the session identifier (authId).
	ID string `json:"id"          redis:"id"`
	// UserID is the owner of the session.
	UserID string `json:"user_id"     redis:"user_id"`
	// UserEmail is the owner's email at login time.
	UserEmail string `json:"user_email"  redis:"user_email"`
	// DeviceInfo is the user agent or device description captured at login.
	DeviceInfo string `json:"device_info" redis:"device_info"`
	// IPAddress is the client address captured at login.
	IPAddress string `json:"ip_address"  redis:"ip_address"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"  redis:"created_at"`
	// ExpiresAt is extended on refresh.
	ExpiresAt time.Time `json:"expires_at"  redis:"expires_at"`
	// LogoutAt is nil while the session is active.
	LogoutAt *time.Time `json:"logout_at"   redis:"logout_at"`
	// IsActive is cleared on revocation.
	IsActive bool `json:"is_active"   redis:"is_active"`
}

// Valid reports isActive ∧ logoutAt=nil ∧ expiresAt>now.
func (s *Session) Valid(now time.Time) bool {
	return s.IsActive && s.LogoutAt == nil && s.ExpiresAt.After(now)
}

// Revoke soft-revokes the session at now.
func (s *Session) Revoke(now time.Time) {
	at := now
	s.LogoutAt = &at
	s.IsActive = false
}

// Extend moves the expiry forward; an earlier time is ignored.
func (s *Session) Extend(until time.Time) {
	if until.After(s.ExpiresAt) {
		s.ExpiresAt = until
	}
}

// Info returns the minimal snapshot handed to the pipeline.
func (s *Session) Info() *SessionInfo {
	return &SessionInfo{
		UserID:    s.UserID,
		UserEmail: s.UserEmail,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	}
}

// SessionInfo is the snapshot of a valid session.
type SessionInfo struct {
	UserID    string    `json:"user_id"`
	UserEmail string    `json:"user_email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
