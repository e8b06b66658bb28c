package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogguard/pkg/requestcontext"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.7:51234",
			want:       "203.0.113.7",
		},
		{
			name:       "ipv6 direct connection",
			remoteAddr: "[::1]:51234",
			want:       "[::1]",
		},
		{
			name:       "single forwarded-for",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9"},
			want:       "198.51.100.9",
		},
		{
			name:       "forwarded-for chain keeps original client",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9, 10.0.0.2, 10.0.0.1"},
			want:       "198.51.100.9",
		},
		{
			name:       "real-ip fallback",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Real-IP": "198.51.100.9"},
			want:       "198.51.100.9",
		},
		{
			name:       "forwarded-for beats real-ip",
			remoteAddr: "10.0.0.1:80",
			headers: map[string]string{
				"X-Forwarded-For": "198.51.100.9",
				"X-Real-IP":       "192.0.2.1",
			},
			want: "198.51.100.9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIPFromRequest(r))
		})
	}
}

func TestRequestID_GeneratesAndEchoes(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = requestcontext.RequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_HonorsUpstreamHeader(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = requestcontext.RequestID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "edge-789")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "edge-789", captured)
}

func TestClientMetadata_PopulatesContext(t *testing.T) {
	var gotIP, gotUA, gotGeo, gotFP, gotMethod, gotURI string
	handler := ClientMetadata(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		gotIP = requestcontext.ClientIP(ctx)
		gotUA = requestcontext.UserAgent(ctx)
		gotGeo = requestcontext.GeoLocation(ctx)
		gotFP = requestcontext.DeviceFingerprint(ctx)
		gotMethod = requestcontext.RequestMethod(ctx)
		gotURI = requestcontext.RequestURI(ctx)
	}))

	r := httptest.NewRequest(http.MethodPost, "/posts?draft=1", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.0")
	r.Header.Set("X-Geo-Country", "DE")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "203.0.113.7", gotIP)
	assert.Contains(t, gotUA, "Firefox")
	assert.Equal(t, "DE", gotGeo)
	assert.NotEmpty(t, gotFP)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/posts?draft=1", gotURI)
}

func TestDeviceFingerprint_StableAcrossMinorVersions(t *testing.T) {
	ip := "203.0.113.7"
	v1 := deviceFingerprint(ip, "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.0")
	v2 := deviceFingerprint(ip, "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.1")
	assert.Equal(t, v1, v2, "patch bumps must not churn the fingerprint")

	other := deviceFingerprint("198.51.100.9", "Mozilla/5.0 (X11; Linux x86_64) Firefox/130.0")
	assert.NotEqual(t, v1, other, "different clients get different fingerprints")
}

const testSigningKey = "test-signing-key"

func signToken(t *testing.T, actorID uuid.UUID, name string) string {
	t.Helper()
	claims := actorClaims{
		Name:      name,
		SessionID: "sess-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return token
}

func TestAuth_ValidTokenPopulatesActor(t *testing.T) {
	actorID := uuid.New()
	var gotID uuid.UUID
	var gotName string
	handler := Auth(testSigningKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = requestcontext.ActorID(r.Context())
		gotName = requestcontext.ActorName(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, actorID, "alice"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, actorID, gotID)
	assert.Equal(t, "alice", gotName)
}

func TestAuth_MissingTokenContinuesAnonymously(t *testing.T) {
	var gotID uuid.UUID
	handler := Auth(testSigningKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = requestcontext.ActorID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uuid.Nil, gotID)
}

func TestAuth_BadTokenRejected(t *testing.T) {
	handler := Auth(testSigningKey)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer not.a.token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_WrongKeyRejected(t *testing.T) {
	handler := Auth("other-key")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signToken(t, uuid.New(), "alice"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireActor(t *testing.T) {
	handler := RequireActor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(requestcontext.WithActor(r.Context(), uuid.New(), "alice"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
