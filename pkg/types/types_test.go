package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserDeliveryEmail(t *testing.T) {
	u := &User{Email: "a@b.com"}
	assert.Equal(t, "a@b.com", u.DeliveryEmail())

	u.Prefs.NotificationEmail = "alerts@b.com"
	assert.Equal(t, "alerts@b.com", u.DeliveryEmail())
}

func TestUserShouldReceiveInstant(t *testing.T) {
	tests := []struct {
		name     string
		user     User
		expected bool
	}{
		{
			name:     "opted in with valid email",
			user:     User{Email: "a@b.com", Prefs: UserPrefs{InstantNotifications: true}},
			expected: true,
		},
		{
			name:     "opted in with broken email",
			user:     User{Email: "nope", Prefs: UserPrefs{InstantNotifications: true}},
			expected: false,
		},
		{
			name:     "not opted in",
			user:     User{Email: "a@b.com"},
			expected: false,
		},
		{
			name:     "test user ignores email validity",
			user:     User{Email: "nope", IsTestUser: true},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.user.ShouldReceiveInstant())
		})
	}
}

func TestUserShouldReceiveDigest(t *testing.T) {
	tests := []struct {
		name     string
		user     User
		expected bool
	}{
		{
			name: "daily digest",
			user: User{Email: "a@b.com", Prefs: UserPrefs{
				EmailNotifications: true, DigestFrequency: DigestDaily}},
			expected: true,
		},
		{
			name: "digest never",
			user: User{Email: "a@b.com", Prefs: UserPrefs{
				EmailNotifications: true, DigestFrequency: DigestNever}},
			expected: false,
		},
		{
			name: "email notifications off",
			user: User{Email: "a@b.com", Prefs: UserPrefs{DigestFrequency: DigestWeekly}},
			expected: false,
		},
		{
			name: "invalid email",
			user: User{Email: "nope", Prefs: UserPrefs{
				EmailNotifications: true, DigestFrequency: DigestDaily}},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.user.ShouldReceiveDigest())
		})
	}
}

func TestNotificationDocumentID(t *testing.T) {
	n := &Notification{}
	assert.Empty(t, n.DocumentID())

	n.Metadata = map[string]interface{}{"document_id": "doc-1"}
	assert.Equal(t, "doc-1", n.DocumentID())

	n.Metadata["document_id"] = 42
	assert.Empty(t, n.DocumentID())
}

func TestErrorKinds(t *testing.T) {
	base := NewError(KindParse, "bad json", errors.New("unexpected token"))
	assert.Equal(t, KindParse, KindOf(base))
	assert.True(t, IsKind(base, KindParse))
	assert.False(t, IsKind(base, KindValidation))

	wrapped := fmt.Errorf("handling message: %w", base)
	assert.Equal(t, KindParse, KindOf(wrapped))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestErrorContext(t *testing.T) {
	err := NewError(KindValidation, "missing ids", nil).
		WithTrace("t1").
		WithContext("user_id", "u1")

	assert.Equal(t, "t1", err.TraceID)
	assert.Equal(t, "u1", err.Context["user_id"])
	assert.Contains(t, err.Error(), "ValidationError")
	assert.Contains(t, err.Error(), "missing ids")
}
