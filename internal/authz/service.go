package authz

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"blogguard/internal/security"
	"blogguard/pkg/platform/sentinel"
	"blogguard/pkg/requestcontext"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogguard_authz_cache_hits_total",
		Help: "Authorization decisions served from cache",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogguard_authz_cache_misses_total",
		Help: "Authorization decisions requiring a relational lookup",
	})
	deniedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blogguard_authz_denied_total",
		Help: "Authorization checks that ended in denial",
	})
)

// Source is the relational permission/ownership backend.
type Source interface {
	// UserHasPermission reports whether the actor holds the permission,
	// directly or through a role.
	UserHasPermission(ctx context.Context, actorID uuid.UUID, permission string) (bool, error)

	// UserHasRole reports whether the actor holds the role.
	UserHasRole(ctx context.Context, actorID uuid.UUID, role string) (bool, error)

	// FindOwner returns the owning actor of a resource instance, or
	// sentinel.ErrNotFound when the resource has no owner record.
	FindOwner(ctx context.Context, resourceType, resourceID string) (uuid.UUID, error)
}

// Publisher emits access-control messages on denials.
type Publisher interface {
	Publish(ctx context.Context, msg *security.Message) error
}

// Service answers authorization checks through the decision cache.
type Service struct {
	cache     *DecisionCache
	source    Source
	publisher Publisher
	logger    *slog.Logger
	timeout   time.Duration
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithPublisher emits AccessControl DENIED messages on Require* failures.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithQueryTimeout bounds each relational lookup.
func WithQueryTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// NewService creates an authorization service.
func NewService(cache *DecisionCache, source Source, opts ...Option) (*Service, error) {
	if cache == nil {
		return nil, errors.New("decision cache is required")
	}
	if source == nil {
		return nil, errors.New("permission source is required")
	}
	s := &Service{
		cache:   cache,
		source:  source,
		logger:  slog.Default(),
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// cached consults the cache first; on miss it snapshots the generations,
// runs the relational lookup with a bounded timeout, and stores the result.
// The snapshot-before-lookup ordering is what makes invalidation safe
// against in-flight lookups.
func (s *Service) cached(ctx context.Context, key CheckKey, resourceKey string, fetch func(ctx context.Context) (bool, error)) (bool, error) {
	if v, ok := s.cache.Get(key); ok {
		cacheHits.Inc()
		return v, nil
	}
	cacheMisses.Inc()

	token := s.cache.Snapshot(key.ActorID, resourceKey)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	v, err := fetch(ctx)
	if err != nil {
		return false, err
	}

	s.cache.Put(key, resourceKey, v, token)
	return v, nil
}

// HasPermission reports whether the actor holds the named permission.
func (s *Service) HasPermission(ctx context.Context, actorID uuid.UUID, permission string) (bool, error) {
	key := CheckKey{ActorID: actorID, Kind: CheckPermission, Key: permission}
	return s.cached(ctx, key, "", func(ctx context.Context) (bool, error) {
		return s.source.UserHasPermission(ctx, actorID, permission)
	})
}

// HasResourcePermission reports whether the actor holds the permission for
// an action on a resource type, e.g. POST_EDIT.
func (s *Service) HasResourcePermission(ctx context.Context, actorID uuid.UUID, resourceType, action string) (bool, error) {
	permission := PermissionName(resourceType, action)
	key := CheckKey{ActorID: actorID, Kind: CheckResourcePermission, Key: permission}
	return s.cached(ctx, key, "", func(ctx context.Context) (bool, error) {
		return s.source.UserHasPermission(ctx, actorID, permission)
	})
}

// HasRole reports whether the actor holds the role.
func (s *Service) HasRole(ctx context.Context, actorID uuid.UUID, role string) (bool, error) {
	key := CheckKey{ActorID: actorID, Kind: CheckRole, Key: role}
	return s.cached(ctx, key, "", func(ctx context.Context) (bool, error) {
		return s.source.UserHasRole(ctx, actorID, role)
	})
}

// IsResourceOwner reports whether the actor owns the resource instance.
// A missing ownership record is "not owner", not an error.
func (s *Service) IsResourceOwner(ctx context.Context, actorID uuid.UUID, resourceType, resourceID string) (bool, error) {
	resourceKey := ResourceKey(resourceType, resourceID)
	key := CheckKey{ActorID: actorID, Kind: CheckOwnership, Key: resourceKey}
	return s.cached(ctx, key, resourceKey, func(ctx context.Context) (bool, error) {
		owner, err := s.source.FindOwner(ctx, resourceType, resourceID)
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return owner == actorID, nil
	})
}

// CanAccessResource is the composite check: the base permission for the
// action is always required; ownership-sensitive actions additionally
// require owning the resource or holding the MANAGE permission. Short
// circuits on the first failing condition.
func (s *Service) CanAccessResource(ctx context.Context, actorID uuid.UUID, resourceType, resourceID, action string) (bool, error) {
	base, err := s.HasResourcePermission(ctx, actorID, resourceType, action)
	if err != nil {
		return false, err
	}
	if !base {
		return false, nil
	}
	if !IsOwnershipSensitive(resourceType, action) {
		return true, nil
	}

	owner, err := s.IsResourceOwner(ctx, actorID, resourceType, resourceID)
	if err != nil {
		return false, err
	}
	if owner {
		return true, nil
	}
	return s.HasPermission(ctx, actorID, PermissionName(resourceType, ActionManage))
}

// RequirePermission returns a DeniedError (and emits an access-control
// message) when the actor lacks the permission.
func (s *Service) RequirePermission(ctx context.Context, actorID uuid.UUID, permission string) error {
	ok, err := s.HasPermission(ctx, actorID, permission)
	if err != nil {
		return err
	}
	if !ok {
		return s.deny(ctx, actorID, "", "", "missing permission %s", permission)
	}
	return nil
}

// RequireResourceAccess returns a DeniedError when the composite resource
// check fails.
func (s *Service) RequireResourceAccess(ctx context.Context, actorID uuid.UUID, resourceType, resourceID, action string) error {
	ok, err := s.CanAccessResource(ctx, actorID, resourceType, resourceID, action)
	if err != nil {
		return err
	}
	if !ok {
		return s.deny(ctx, actorID, resourceType, resourceID, "no %s access on %s/%s", action, resourceType, resourceID)
	}
	return nil
}

// RequireRole returns a DeniedError when the actor lacks the role.
func (s *Service) RequireRole(ctx context.Context, actorID uuid.UUID, role string) error {
	ok, err := s.HasRole(ctx, actorID, role)
	if err != nil {
		return err
	}
	if !ok {
		return s.deny(ctx, actorID, "", "", "missing role %s", role)
	}
	return nil
}

// RefreshUserPermissionCache clears every cached permission, role and
// ownership decision for the actor. Grant mutations must call this inside
// the same transaction boundary, before the change is visible to callers.
func (s *Service) RefreshUserPermissionCache(actorID uuid.UUID) {
	s.cache.InvalidateActor(actorID)
}

// RefreshResourceOwnershipCache clears cached ownership decisions for the
// resource instance, across all actors.
func (s *Service) RefreshResourceOwnershipCache(resourceType, resourceID string) {
	s.cache.InvalidateResource(ResourceKey(resourceType, resourceID))
}

// ClearAllPermissionCache drops every cached decision.
func (s *Service) ClearAllPermissionCache() {
	s.cache.Clear()
}

// deny records the denial in the audit trail (with the specific reason) and
// returns the generic caller-facing error.
func (s *Service) deny(ctx context.Context, actorID uuid.UUID, resourceType, resourceID, format string, args ...any) error {
	deniedTotal.Inc()
	err := denied(format, args...)

	if s.publisher != nil {
		msg := security.NewAuditMessage(security.OpPermissionCheck)
		msg.ActorID = actorID
		msg.ActorName = requestcontext.ActorName(ctx)
		msg.SessionID = requestcontext.SessionID(ctx)
		msg.RequestID = requestcontext.RequestID(ctx)
		msg.SourceIP = requestcontext.ClientIP(ctx)
		msg.UserAgent = requestcontext.UserAgent(ctx)
		msg.ResourceType = resourceType
		msg.ResourceID = resourceID
		msg.Result = security.ResultDenied
		msg.Description = err.Reason()
		msg.RiskLevel = max(msg.RiskLevel, 3)
		if pubErr := s.publisher.Publish(ctx, msg); pubErr != nil {
			s.logger.Warn("denial audit publish failed", "error", pubErr)
		}
	}

	s.logger.Info("authorization denied",
		"actor_id", actorID,
		"reason", err.Reason(),
	)
	return err
}
