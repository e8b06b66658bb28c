package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogguard/internal/authz"
	"blogguard/internal/security"
	"blogguard/internal/security/capture"
	"blogguard/internal/security/store/memory"
	"blogguard/pkg/platform/sentinel"
	"blogguard/pkg/requestcontext"
)

type allowAllSource struct{}

func (allowAllSource) UserHasPermission(context.Context, uuid.UUID, string) (bool, error) {
	return true, nil
}

func (allowAllSource) UserHasRole(context.Context, uuid.UUID, string) (bool, error) {
	return true, nil
}

func (allowAllSource) FindOwner(context.Context, string, string) (uuid.UUID, error) {
	return uuid.Nil, sentinel.ErrNotFound
}

type nullPublisher struct{}

func (nullPublisher) Publish(context.Context, *security.Message) error { return nil }
func (nullPublisher) PublishAsync(*security.Message)                   {}

func newTestHandler(t *testing.T) (*Handler, *memory.Store) {
	t.Helper()
	cache, err := authz.NewDecisionCache(16, time.Minute)
	require.NoError(t, err)
	svc, err := authz.NewService(cache, allowAllSource{})
	require.NoError(t, err)

	st := memory.New()
	logger := slog.New(slog.DiscardHandler)
	return NewHandler(st, svc, capture.New(nullPublisher{}, capture.WithLogger(logger)), logger), st
}

func adminRequest(target string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, target, nil)
	return r.WithContext(requestcontext.WithActor(r.Context(), uuid.New(), "admin"))
}

func TestHandleListEvents_ReturnsEvents(t *testing.T) {
	h, st := newTestHandler(t)
	event := security.NewSecurityEvent(security.EventBruteForce, 5, "login storm")
	require.NoError(t, st.SaveSecurityEvent(context.Background(), event))

	rec := httptest.NewRecorder()
	h.handleListEvents(rec, adminRequest("/admin/security-events"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), security.EventBruteForce)
}

func TestHandleListEvents_RejectsBadQueryParams(t *testing.T) {
	h, _ := newTestHandler(t)

	for _, target := range []string{
		"/admin/security-events?offset=-1",
		"/admin/security-events?limit=-5",
		"/admin/security-events?min_severity=abc",
		"/admin/security-events?limit=ten",
	} {
		rec := httptest.NewRecorder()
		h.handleListEvents(rec, adminRequest(target))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "query %s must be rejected", target)
	}
}
