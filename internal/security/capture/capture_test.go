package capture

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogguard/internal/security"
	"blogguard/pkg/requestcontext"
)

// fakePublisher records published messages and optionally fails.
type fakePublisher struct {
	mu       sync.Mutex
	messages []*security.Message
	err      error
}

func (f *fakePublisher) Publish(_ context.Context, msg *security.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakePublisher) PublishAsync(msg *security.Message) {
	_ = f.Publish(context.Background(), msg)
}

func (f *fakePublisher) published() []*security.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages
}

func testContext() context.Context {
	ctx := context.Background()
	ctx = requestcontext.WithActor(ctx, uuid.MustParse("5f4c9e0a-1111-2222-3333-444455556666"), "alice")
	ctx = requestcontext.WithClientMetadata(ctx, "10.0.0.5", "test-agent/1.0")
	ctx = requestcontext.WithRequestID(ctx, "req-123")
	return ctx
}

func TestDo_SuccessPublishesExactlyOne(t *testing.T) {
	pub := &fakePublisher{}
	auditor := New(pub)

	result, err := Do(auditor, testContext(), Descriptor{Operation: security.OpPostCreate}, nil,
		func(ctx context.Context) (string, error) {
			return "post-7", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "post-7", result)

	msgs := pub.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, security.ResultSuccess, msgs[0].Result)
	assert.Equal(t, security.OpPostCreate, msgs[0].Operation)
	assert.Equal(t, "alice", msgs[0].ActorName)
	assert.Equal(t, "10.0.0.5", msgs[0].SourceIP)
	assert.Equal(t, "req-123", msgs[0].RequestID)
}

func TestDo_FailurePublishesExactlyOneAndPassesErrorThrough(t *testing.T) {
	pub := &fakePublisher{}
	auditor := New(pub)
	boom := errors.New("database gone")

	_, err := Do(auditor, testContext(), Descriptor{Operation: security.OpPostDelete}, nil,
		func(ctx context.Context) (string, error) {
			return "", boom
		})
	require.ErrorIs(t, err, boom, "original error must pass through unchanged")

	msgs := pub.published()
	require.Len(t, msgs, 1, "exactly one publish per invocation")
	assert.Equal(t, security.ResultFailure, msgs[0].Result)
	assert.Contains(t, msgs[0].ErrorMessage, "database gone")
	assert.True(t, msgs[0].HasTag("failure"))
}

func TestDo_FailureRiskFloor(t *testing.T) {
	tests := []struct {
		name     string
		baseRisk int
		want     int
	}{
		{"low risk floored to 3", 1, 3},
		{"risk 2 floored to 3", 2, 3},
		{"risk 3 bumped to 4", 3, 4},
		{"risk 4 bumped to 5", 4, 5},
		{"risk 5 capped at 5", 5, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			auditor := New(pub)

			_, _ = Do(auditor, testContext(),
				Descriptor{Operation: security.OpPostCreate, RiskLevel: tt.baseRisk}, nil,
				func(ctx context.Context) (struct{}, error) {
					return struct{}{}, errors.New("nope")
				})

			msgs := pub.published()
			require.Len(t, msgs, 1)
			assert.Equal(t, tt.want, msgs[0].RiskLevel)
			assert.GreaterOrEqual(t, msgs[0].RiskLevel, 3, "captured failures never drop below risk 3")
		})
	}
}

func TestDo_SensitiveRedaction(t *testing.T) {
	pub := &fakePublisher{}
	auditor := New(pub)

	req := NewRequestSummary().
		Positional("alice").
		Positional("secret123")

	_, err := Do(auditor, testContext(), Descriptor{
		Operation:       security.OpUserLogin,
		CaptureRequest:  true,
		SensitiveParams: []int{1},
	}, req, func(ctx context.Context) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)

	msgs := pub.published()
	require.Len(t, msgs, 1)

	var snapshot []struct {
		Name  string `json:"name"`
		Value any    `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(msgs[0].RequestPayload), &snapshot))
	require.Len(t, snapshot, 2)
	assert.Equal(t, "alice", snapshot[0].Value, "non-sensitive position kept verbatim")
	assert.Equal(t, MaskToken, snapshot[1].Value, "sensitive position masked")
}

func TestDo_SensitiveNameKeywords(t *testing.T) {
	pub := &fakePublisher{}
	auditor := New(pub)

	req := NewRequestSummary().
		Arg("username", "alice").
		Arg("newPassword", "hunter2").
		Arg("api_key", "k-123")

	_, err := Do(auditor, testContext(), Descriptor{
		Operation:      security.OpPasswordChange,
		CaptureRequest: true,
	}, req, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	require.NoError(t, err)

	payload := pub.published()[0].RequestPayload
	assert.Contains(t, payload, "alice")
	assert.NotContains(t, payload, "hunter2")
	assert.NotContains(t, payload, "k-123")
}

func TestDo_PayloadTruncation(t *testing.T) {
	pub := &fakePublisher{}
	auditor := New(pub)

	req := NewRequestSummary().Arg("body", strings.Repeat("x", 10_000))

	_, err := Do(auditor, testContext(), Descriptor{
		Operation:      security.OpPostCreate,
		CaptureRequest: true,
		MaxFieldLength: 100,
	}, req, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	require.NoError(t, err, "oversized input must never fail the operation")

	msgs := pub.published()
	require.Len(t, msgs, 1)
	assert.LessOrEqual(t, len(msgs[0].RequestPayload), 100)
}

func TestDo_ResponseCapture(t *testing.T) {
	pub := &fakePublisher{}
	auditor := New(pub)

	type post struct {
		ID    int    `json:"id"`
		Title string `json:"title"`
	}
	_, err := Do(auditor, testContext(), Descriptor{
		Operation:       security.OpPostCreate,
		CaptureResponse: true,
	}, nil, func(ctx context.Context) (post, error) {
		return post{ID: 7, Title: "hello"}, nil
	})
	require.NoError(t, err)
	assert.Contains(t, pub.published()[0].ResponsePayload, `"title":"hello"`)
}

func TestDo_PublishFailureDoesNotFailOperation(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	auditor := New(pub)

	result, err := Do(auditor, testContext(), Descriptor{Operation: security.OpPostCreate}, nil,
		func(ctx context.Context) (int, error) {
			return 42, nil
		})
	require.NoError(t, err, "capture failures are invisible to the business caller")
	assert.Equal(t, 42, result)
}

func TestDo_StrictModeSurfacesPublishFailure(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	auditor := New(pub, WithStrictMode())

	_, err := Do(auditor, testContext(), Descriptor{Operation: security.OpPostCreate}, nil,
		func(ctx context.Context) (int, error) {
			return 42, nil
		})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit publish")
}

func TestDo_StrictModeKeepsOriginalOperationError(t *testing.T) {
	// When the operation itself failed, strict mode must not replace that
	// error with a publish error.
	pub := &fakePublisher{err: errors.New("broker down")}
	auditor := New(pub, WithStrictMode())
	boom := errors.New("operation failed")

	_, err := Do(auditor, testContext(), Descriptor{Operation: security.OpPostCreate}, nil,
		func(ctx context.Context) (int, error) {
			return 0, boom
		})
	require.ErrorIs(t, err, boom)
}

func TestRun_WrapsVoidOperations(t *testing.T) {
	pub := &fakePublisher{}
	auditor := New(pub)

	called := false
	err := auditor.Run(testContext(), Descriptor{Operation: security.OpSettingsUpdate}, nil,
		func(ctx context.Context) error {
			called = true
			return nil
		})
	require.NoError(t, err)
	assert.True(t, called)
	require.Len(t, pub.published(), 1)
}

func TestRequestSummary_UnserializableValueFallsBack(t *testing.T) {
	pub := &fakePublisher{}
	auditor := New(pub)

	req := NewRequestSummary().Arg("ch", make(chan int))
	_, err := Do(auditor, testContext(), Descriptor{
		Operation:      security.OpPostCreate,
		CaptureRequest: true,
	}, req, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	require.NoError(t, err, "unserializable arguments must not break capture")
	require.Len(t, pub.published(), 1)
	assert.NotEmpty(t, pub.published()[0].RequestPayload)
}
