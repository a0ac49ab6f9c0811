package domain

import (
	"strings"
	"time"
)

// MethodType is a second-factor channel. The set is closed: ParseMethodType rejects anything else.
type MethodType string

const (
	MethodEmail MethodType = "email"
	MethodSMS   MethodType = "sms"
)

// ParseMethodType maps a client-supplied method name to a known MethodType.
func ParseMethodType(s string) (MethodType, bool) {
	switch MethodType(strings.ToLower(strings.TrimSpace(s))) {
	case MethodEmail:
		return MethodEmail, true
	case MethodSMS:
		return MethodSMS, true
	}
	return "", false
}

// Method is one second-factor method held by a subject (stored in mfa_methods table).
// AuthCode is the live one-time code, empty when none has been issued.
type Method struct {
	ID                string
	UserID            string
	Type              MethodType
	Recipient         string
	Enabled           bool
	AuthCode          string
	LastCodeSentAt    time.Time
	LastCodeExpiresAt time.Time
}

// HasActiveCode reports whether a code is stored and, when an expiry is set, it has not passed at now.
func (m *Method) HasActiveCode(now time.Time) bool {
	if m.AuthCode == "" {
		return false
	}
	return !m.CodeExpired(now)
}

// CodeExpired reports whether an expiry is set and now is past it.
func (m *Method) CodeExpired(now time.Time) bool {
	return !m.LastCodeExpiresAt.IsZero() && now.After(m.LastCodeExpiresAt)
}

// Subject is the user being authenticated together with their second-factor methods.
type Subject struct {
	ID      string
	Methods []*Method
}

// Method returns the subject's method of type t, or nil.
func (s *Subject) Method(t MethodType) *Method {
	if s == nil {
		return nil
	}
	for _, m := range s.Methods {
		if m.Type == t {
			return m
		}
	}
	return nil
}
