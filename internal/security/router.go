package security

// Logical queue names. Topic and routing key are identical by convention;
// consumers subscribe per topic, producers key records by routing key.
const (
	TopicSecurityEvent = "security.event"
	TopicUserAuth      = "user.auth"
	TopicFileUpload    = "file.upload.audit"
	TopicSearch        = "search.audit"
	TopicAccessControl = "access.control"
	TopicAuditLog      = "security.audit"
)

// Destination is the broker address of a message: the topic it is produced
// to and the routing key used to partition it.
type Destination struct {
	Topic string
	Key   string
}

// Route maps a message to its destination queue. Pure and total: every kind
// yields a destination, unknown kinds fall through to the generic audit
// queue, and security events win over the originating sub-kind.
func Route(m *Message) Destination {
	if m.IsSecurityEvent() {
		return Destination{Topic: TopicSecurityEvent, Key: TopicSecurityEvent}
	}
	switch m.Kind {
	case KindUserAuth:
		return Destination{Topic: TopicUserAuth, Key: TopicUserAuth}
	case KindFileUpload:
		return Destination{Topic: TopicFileUpload, Key: TopicFileUpload}
	case KindSearch:
		return Destination{Topic: TopicSearch, Key: TopicSearch}
	case KindAccessControl:
		return Destination{Topic: TopicAccessControl, Key: TopicAccessControl}
	default:
		return Destination{Topic: TopicAuditLog, Key: TopicAuditLog}
	}
}

// Topics lists every queue the pipeline consumes from. Used for consumer
// subscription and startup topic creation.
func Topics() []string {
	return []string{
		TopicSecurityEvent,
		TopicUserAuth,
		TopicFileUpload,
		TopicSearch,
		TopicAccessControl,
		TopicAuditLog,
	}
}
