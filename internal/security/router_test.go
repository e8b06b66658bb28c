package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoute_KindMapping(t *testing.T) {
	tests := []struct {
		name      string
		kind      Kind
		wantTopic string
	}{
		{"user auth", KindUserAuth, TopicUserAuth},
		{"file upload", KindFileUpload, TopicFileUpload},
		{"search", KindSearch, TopicSearch},
		{"access control", KindAccessControl, TopicAccessControl},
		{"audit log", KindAuditLog, TopicAuditLog},
		{"security event", KindSecurityEvent, TopicSecurityEvent},
		{"unknown kind falls back to audit", Kind("bogus"), TopicAuditLog},
		{"empty kind falls back to audit", Kind(""), TopicAuditLog},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dest := Route(&Message{Kind: tt.kind})
			assert.Equal(t, tt.wantTopic, dest.Topic)
			assert.Equal(t, tt.wantTopic, dest.Key, "routing key mirrors topic")
			assert.NotEmpty(t, dest.Topic)
		})
	}
}

func TestRoute_SecurityEventWinsOverSubKind(t *testing.T) {
	// An escalated event originating from an auth failure still routes to
	// the security event queue.
	msg := NewSecurityEvent(EventBruteForce, 5, "too many login failures")
	dest := Route(msg)
	assert.Equal(t, TopicSecurityEvent, dest.Topic)
}

func TestRoute_Deterministic(t *testing.T) {
	msg := NewAuditMessage(OpUserLoginFailure)
	first := Route(msg)
	for range 10 {
		require.Equal(t, first, Route(msg))
	}
}

func TestTopics_CoversAllDestinations(t *testing.T) {
	topics := Topics()
	require.Len(t, topics, 6)

	seen := make(map[string]bool, len(topics))
	for _, topic := range topics {
		seen[topic] = true
	}
	for _, kind := range []Kind{KindAuditLog, KindSecurityEvent, KindUserAuth, KindFileUpload, KindSearch, KindAccessControl} {
		dest := Route(&Message{Kind: kind})
		assert.True(t, seen[dest.Topic], "topic %s for kind %s not in Topics()", dest.Topic, kind)
	}
}
