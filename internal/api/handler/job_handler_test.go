package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuongbtq/job-bridge/internal/api/dto"
	"github.com/cuongbtq/job-bridge/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, payload any) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

type fixedState rabbitmq.State

func (s fixedState) State() rabbitmq.State { return rabbitmq.State(s) }

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestEngine(pub Publisher, broker BrokerState) (*gin.Engine, *JobHandler) {
	h := NewJobHandler(&Dependencies{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Publisher: pub,
		Broker:    broker,
	})

	r := gin.New()
	r.POST("/enqueue", h.Enqueue)
	r.POST("/send", h.Send)
	r.GET("/health", h.Health)
	return r, h
}

func doRequest(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEnqueue(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		publishErr error
		publishes  bool
		wantStatus int
		wantBody   string
	}{
		{
			name:       "queued",
			body:       `{"to":"+1555","msg":"hi"}`,
			publishes:  true,
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"queued"}`,
		},
		{
			name:       "publish failure",
			body:       `{"to":"+1555"}`,
			publishErr: rabbitmq.ErrPublishFailed,
			publishes:  true,
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Failed to enqueue"}`,
		},
		{
			name:       "no channels",
			body:       `{"to":"+1555"}`,
			publishErr: rabbitmq.ErrNoChannelsAvailable,
			publishes:  true,
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   `{"error":"Failed to enqueue"}`,
		},
		{
			name:       "malformed json",
			body:       `{"to":`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid request body"}`,
		},
		{
			name:       "array body",
			body:       `[1,2]`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid request body"}`,
		},
		{
			name:       "null body",
			body:       `null`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid request body"}`,
		},
		{
			name:       "empty body",
			body:       ``,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid request body"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := new(mockPublisher)
			if tt.publishes {
				pub.On("Publish", mock.Anything, mock.Anything).Return(tt.publishErr).Once()
			}
			r, _ := newTestEngine(pub, nil)

			w := doRequest(r, http.MethodPost, "/enqueue", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
			pub.AssertExpectations(t)
			if !tt.publishes {
				pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestEnqueue_PassesPayloadThrough(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(p any) bool {
		m, ok := p.(dto.JobPayload)
		if !ok {
			return false
		}
		return m["to"] == "+1555" && m["retries"] == float64(2)
	})).Return(nil).Once()
	r, _ := newTestEngine(pub, nil)

	w := doRequest(r, http.MethodPost, "/enqueue", `{"to":"+1555","retries":2}`)

	assert.Equal(t, http.StatusOK, w.Code)
	pub.AssertExpectations(t)
}

func TestSend(t *testing.T) {
	t.Run("accepted before publish completes", func(t *testing.T) {
		release := make(chan struct{})
		pub := new(mockPublisher)
		pub.On("Publish", mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { <-release }).
			Return(nil).Once()
		r, h := newTestEngine(pub, nil)

		w := doRequest(r, http.MethodPost, "/send", `{"to":"+1555"}`)

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.JSONEq(t, `{"accepted":true}`, w.Body.String())

		close(release)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, h.Wait(ctx))
		pub.AssertExpectations(t)
	})

	t.Run("publish failure is still accepted", func(t *testing.T) {
		pub := new(mockPublisher)
		pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("boom")).Once()
		r, h := newTestEngine(pub, nil)

		w := doRequest(r, http.MethodPost, "/send", `{"to":"+1555"}`)

		assert.Equal(t, http.StatusAccepted, w.Code)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, h.Wait(ctx))
		pub.AssertExpectations(t)
	})

	t.Run("invalid body", func(t *testing.T) {
		pub := new(mockPublisher)
		r, _ := newTestEngine(pub, nil)

		w := doRequest(r, http.MethodPost, "/send", `"text"`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"Invalid request body"}`, w.Body.String())
		pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
	})
}

func TestWait_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(nil)
	r, h := newTestEngine(pub, nil)

	doRequest(r, http.MethodPost, "/send", `{"to":"+1555"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		broker BrokerState
		want   string
	}{
		{name: "connected", broker: fixedState(rabbitmq.StateConnected), want: `{"status":"ok","broker":"connected"}`},
		{name: "reconnecting", broker: fixedState(rabbitmq.StateConnecting), want: `{"status":"ok","broker":"connecting"}`},
		{name: "no broker", broker: nil, want: `{"status":"ok","broker":"unknown"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestEngine(new(mockPublisher), tt.broker)

			w := doRequest(r, http.MethodGet, "/health", "")

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, tt.want, w.Body.String())
		})
	}
}
