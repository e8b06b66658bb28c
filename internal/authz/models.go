// Package authz caches permission, role and resource-ownership decisions.
// Relational lookups are expensive; decisions are memoized per actor and
// resource with TTL bounds and precise, generation-fenced invalidation so a
// stale "allow" can never be served after a revoke.
package authz

import (
	"fmt"

	"github.com/google/uuid"

	"blogguard/pkg/platform/sentinel"
)

// CheckKind classifies a cached decision.
type CheckKind string

const (
	CheckPermission         CheckKind = "permission"
	CheckResourcePermission CheckKind = "resource_permission"
	CheckRole               CheckKind = "role"
	CheckOwnership          CheckKind = "ownership"
)

// CheckKey identifies one cached decision. Typed keys keep cache lookups
// free of string templating mistakes.
type CheckKey struct {
	ActorID uuid.UUID
	Kind    CheckKind
	Key     string
}

// Resource types with ownership semantics.
const (
	ResourcePost    = "POST"
	ResourceComment = "COMMENT"
	ResourceUser    = "USER"
	ResourceFile    = "FILE"
)

// Actions on resources.
const (
	ActionView   = "VIEW"
	ActionCreate = "CREATE"
	ActionEdit   = "EDIT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionManage = "MANAGE"
)

// PermissionName builds the canonical permission string for a resource
// action, e.g. POST_EDIT.
func PermissionName(resourceType, action string) string {
	return resourceType + "_" + action
}

// ResourceKey builds the cache key fragment for a resource instance.
func ResourceKey(resourceType, resourceID string) string {
	return resourceType + ":" + resourceID
}

// ownershipSensitive marks (resourceType, action) pairs that additionally
// require ownership or a MANAGE permission beyond the base permission.
var ownershipSensitive = map[string]bool{
	PermissionName(ResourcePost, ActionEdit):      true,
	PermissionName(ResourcePost, ActionUpdate):    true,
	PermissionName(ResourcePost, ActionDelete):    true,
	PermissionName(ResourceComment, ActionEdit):   true,
	PermissionName(ResourceComment, ActionUpdate): true,
	PermissionName(ResourceComment, ActionDelete): true,
	PermissionName(ResourceUser, ActionEdit):      true,
	PermissionName(ResourceUser, ActionUpdate):    true,
	PermissionName(ResourceUser, ActionDelete):    true,
}

// IsOwnershipSensitive reports whether the action on the resource type
// requires an ownership (or MANAGE) check.
func IsOwnershipSensitive(resourceType, action string) bool {
	return ownershipSensitive[PermissionName(resourceType, action)]
}

// DeniedError is the caller-facing authorization failure. Its message is
// deliberately generic: which specific check failed stays in the audit
// trail, not in the user-visible error.
type DeniedError struct {
	reason string
}

// Error returns the generic denial message.
func (e *DeniedError) Error() string {
	return "insufficient permission"
}

// Unwrap lets callers match errors.Is(err, sentinel.ErrDenied).
func (e *DeniedError) Unwrap() error {
	return sentinel.ErrDenied
}

// Reason exposes the internal denial reason for audit and logging.
func (e *DeniedError) Reason() string {
	return e.reason
}

func denied(format string, args ...any) *DeniedError {
	return &DeniedError{reason: fmt.Sprintf(format, args...)}
}
