package security

// Operation names a sensitive application operation subject to audit capture.
// Each operation carries a base risk level (1–5); the capture interceptor
// raises it on failure.
type Operation string

const (
	// Authentication
	OpUserLogin        Operation = "USER_LOGIN"
	OpUserLoginFailure Operation = "USER_LOGIN_FAILURE"
	OpUserLogout       Operation = "USER_LOGOUT"
	OpUserRegister     Operation = "USER_REGISTER"
	OpPasswordChange   Operation = "PASSWORD_CHANGE"
	OpPasswordReset    Operation = "PASSWORD_RESET"

	// Content
	OpPostCreate    Operation = "POST_CREATE"
	OpPostUpdate    Operation = "POST_UPDATE"
	OpPostDelete    Operation = "POST_DELETE"
	OpCommentCreate Operation = "COMMENT_CREATE"
	OpCommentDelete Operation = "COMMENT_DELETE"
	OpPostLike      Operation = "POST_LIKE"
	OpUserFollow    Operation = "USER_FOLLOW"

	// Account
	OpSettingsUpdate Operation = "SETTINGS_UPDATE"
	OpDataExport     Operation = "DATA_EXPORT"

	// Files
	OpFileUpload Operation = "FILE_UPLOAD"
	OpFileScan   Operation = "FILE_SCAN"
	OpFileDelete Operation = "FILE_DELETE"

	// Search
	OpSearchQuery Operation = "SEARCH_QUERY"

	// Access control and administration
	OpPermissionCheck  Operation = "PERMISSION_CHECK"
	OpPermissionGrant  Operation = "PERMISSION_GRANT"
	OpPermissionRevoke Operation = "PERMISSION_REVOKE"
	OpRoleChange       Operation = "ROLE_CHANGE"
	OpAccountLock      Operation = "ACCOUNT_LOCK"
	OpAdminAction      Operation = "ADMIN_ACTION"

	// OpSecurityEvent marks messages synthesized by the escalation engine.
	OpSecurityEvent Operation = "SECURITY_EVENT"
)

// operationRisk maps each operation to its base risk level. Operations not
// listed default to risk 1 (routine activity).
var operationRisk = map[Operation]int{
	OpUserLogin:        2,
	OpUserLoginFailure: 3,
	OpUserLogout:       1,
	OpUserRegister:     2,
	OpPasswordChange:   4,
	OpPasswordReset:    4,

	OpPostCreate:    1,
	OpPostUpdate:    2,
	OpPostDelete:    3,
	OpCommentCreate: 1,
	OpCommentDelete: 2,
	OpPostLike:      1,
	OpUserFollow:    1,

	OpSettingsUpdate: 2,
	OpDataExport:     4,

	OpFileUpload: 3,
	OpFileScan:   3,
	OpFileDelete: 2,

	OpSearchQuery: 1,

	OpPermissionCheck:  2,
	OpPermissionGrant:  4,
	OpPermissionRevoke: 4,
	OpRoleChange:       4,
	OpAccountLock:      4,
	OpAdminAction:      4,

	OpSecurityEvent: 5,
}

// BaseRisk returns the operation's base risk level. Unknown operations
// default to the minimum.
func (o Operation) BaseRisk() int {
	if r, ok := operationRisk[o]; ok {
		return r
	}
	return RiskMin
}

// operationKinds maps operations to message kinds. Operations not listed
// default to KindAuditLog.
var operationKinds = map[Operation]Kind{
	OpUserLogin:        KindUserAuth,
	OpUserLoginFailure: KindUserAuth,
	OpUserLogout:       KindUserAuth,
	OpUserRegister:     KindUserAuth,
	OpPasswordChange:   KindUserAuth,
	OpPasswordReset:    KindUserAuth,

	OpFileUpload: KindFileUpload,
	OpFileScan:   KindFileUpload,
	OpFileDelete: KindFileUpload,

	OpSearchQuery: KindSearch,

	OpPermissionCheck:  KindAccessControl,
	OpPermissionGrant:  KindAccessControl,
	OpPermissionRevoke: KindAccessControl,
	OpRoleChange:       KindAccessControl,
	OpAccountLock:      KindAccessControl,

	OpSecurityEvent: KindSecurityEvent,
}

// Kind returns the message kind this operation is captured as.
func (o Operation) Kind() Kind {
	if k, ok := operationKinds[o]; ok {
		return k
	}
	return KindAuditLog
}
