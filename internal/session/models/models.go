// Package models contains pure domain models for tracked login sessions.
package models

import (
	"time"

	"crew/pkg/domain"
)

// Setting keys consumed from the security_settings table.
const (
	SettingConcurrentLimit = "session_concurrent_limit"

	// DefaultConcurrentLimit applies when the setting is missing or unparsable.
	DefaultConcurrentLimit = 3
)

// Session is a tracked, revocable record of one authenticated login instance.
// After creation only IsActive and LastActivityAt change.
type Session struct {
	ID                domain.SessionID
	UserID            domain.UserID
	Token             string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	LastActivityAt    time.Time
	IPAddress         string
	UserAgent         string
	DeviceDisplayName string
	IsActive          bool
}

// Deactivate flips the session inactive. Returns true if the transition
// occurred, false if the session was already inactive.
func (s *Session) Deactivate() bool {
	if !s.IsActive {
		return false
	}
	s.IsActive = false
	return true
}

// RecordActivity advances LastActivityAt if the given time is later.
func (s *Session) RecordActivity(at time.Time) {
	if at.After(s.LastActivityAt) {
		s.LastActivityAt = at
	}
}

// Expired reports whether the session has passed its expiry as of now.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// Clone returns a copy so store-held state cannot be mutated by callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Summary is the JSON shape exposed on the session management endpoint.
type Summary struct {
	ID                string    `json:"id"`
	DeviceDisplayName string    `json:"device_display_name,omitempty"`
	IPAddress         string    `json:"ip_address,omitempty"`
	IssuedAt          time.Time `json:"issued_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
	ExpiresAt         time.Time `json:"expires_at"`
}

// Summarize converts a session to its API representation.
func (s *Session) Summarize() Summary {
	return Summary{
		ID:                s.ID.String(),
		DeviceDisplayName: s.DeviceDisplayName,
		IPAddress:         s.IPAddress,
		IssuedAt:          s.IssuedAt,
		LastActivityAt:    s.LastActivityAt,
		ExpiresAt:         s.ExpiresAt,
	}
}
