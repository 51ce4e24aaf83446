package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"clickgate/internal/gate"
	"clickgate/internal/models"
	"clickgate/internal/ratelimit"
	"clickgate/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// pingStorage is a storage.Storage whose Ping result is configurable
type pingStorage struct {
	storage.Storage
	pingErr error
}

func (p *pingStorage) Ping(_ context.Context) error { return p.pingErr }

// MockGateService implements the gate.ServiceInterface for testing
type MockGateService struct {
	mock.Mock
}

func (m *MockGateService) Click(ctx context.Context, req *models.ClickRequest) (*models.ClickResponse, ratelimit.Info, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*models.ClickResponse)
	return resp, args.Get(1).(ratelimit.Info), args.Error(2)
}

func (m *MockGateService) Count(ctx context.Context) (*models.CounterResponse, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*models.CounterResponse)
	return resp, args.Error(1)
}

func testInfo() ratelimit.Info {
	return ratelimit.Info{Limit: 10, Remaining: 9, ResetAt: time.Unix(1_700_000_001, 0)}
}

func newTestRouter(t *testing.T, svc gate.ServiceInterface, opts ...HandlerOption) http.Handler {
	t.Helper()
	config := models.NewDefaultConfig()
	return SetupRoutes(NewHandlers(svc, opts...), config)
}

func decodeError(t *testing.T, body *bytes.Buffer) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(body.Bytes(), &resp))
	return resp
}

func TestNewHandlers(t *testing.T) {
	mockService := &MockGateService{}
	handlers := NewHandlers(mockService)

	assert.NotNil(t, handlers)
	assert.Equal(t, mockService, handlers.gateService)
	assert.Nil(t, handlers.storage)
	assert.Equal(t, ratelimit.DefaultClientIPHeaders, handlers.clientIPHeaders)
	assert.False(t, handlers.trustRemoteAddr)
}

func TestHandlers_Greeting(t *testing.T) {
	router := newTestRouter(t, &MockGateService{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "Moin", recorder.Body.String())
}

func TestHandlers_Click_Success(t *testing.T) {
	for _, path := range []string{"/", "/api/v1/click"} {
		t.Run(path, func(t *testing.T) {
			mockService := &MockGateService{}
			mockService.On("Click", mock.Anything, &models.ClickRequest{
				CaptchaToken: "tok",
				Clicked:      true,
				RemoteIP:     "192.0.2.1",
			}).Return(&models.ClickResponse{Message: "ok", Count: 42}, testInfo(), nil)
			router := newTestRouter(t, mockService)

			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"cf_token":"tok","clicked":true}`))
			req.Header.Set("CF-Connecting-IP", "192.0.2.1")
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, req)

			assert.Equal(t, http.StatusOK, recorder.Code)
			assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))
			assert.JSONEq(t, `{"message":"ok","count":42}`, recorder.Body.String())
			assert.Equal(t, "10", recorder.Header().Get("X-RateLimit-Limit"))
			assert.Equal(t, "9", recorder.Header().Get("X-RateLimit-Remaining"))
			assert.Equal(t, "1700000001", recorder.Header().Get("X-RateLimit-Reset"))
			assert.Empty(t, recorder.Header().Get("Retry-After"))
			mockService.AssertExpectations(t)
		})
	}
}

func TestHandlers_Click_LenientBody(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"malformed", "{cf_token:"},
		{"wrong types", `{"cf_token": 5, "clicked": "yes"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockGateService{}
			mockService.On("Click", mock.Anything, &models.ClickRequest{RemoteIP: "192.0.2.1"}).
				Return(nil, testInfo(), gate.NewCaptchaMissingError(models.ErrCaptchaMissing))
			router := newTestRouter(t, mockService)

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set("X-Real-IP", "192.0.2.1")
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, req)

			assert.Equal(t, http.StatusBadRequest, recorder.Code)
			assert.Equal(t, models.ErrorCodeCaptchaMissing, decodeError(t, recorder.Body).Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestHandlers_Click_TruthyClicked(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		clicked  bool
		err      error
		wantCode int
	}{
		{"number one", `{"cf_token":"tok","clicked":1}`, true, nil, http.StatusOK},
		{"number zero", `{"cf_token":"tok","clicked":0}`, false, gate.NewNotClickedError(models.ErrNotClicked), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *models.ClickResponse
			if tt.err == nil {
				resp = &models.ClickResponse{Message: "ok", Count: 1}
			}
			mockService := &MockGateService{}
			mockService.On("Click", mock.Anything, &models.ClickRequest{
				CaptchaToken: "tok",
				Clicked:      tt.clicked,
				RemoteIP:     "192.0.2.1",
			}).Return(resp, testInfo(), tt.err)
			router := newTestRouter(t, mockService)

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set("X-Real-IP", "192.0.2.1")
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, req)

			assert.Equal(t, tt.wantCode, recorder.Code)
			if tt.err != nil {
				assert.Equal(t, models.ErrorCodeNotClicked, decodeError(t, recorder.Body).Code)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestHandlers_Click_ClientIPSources(t *testing.T) {
	t.Run("remote addr ignored by default", func(t *testing.T) {
		mockService := &MockGateService{}
		mockService.On("Click", mock.Anything, mock.MatchedBy(func(r *models.ClickRequest) bool {
			return r.RemoteIP == ""
		})).Return(nil, ratelimit.Info{}, gate.NewMissingClientIPError())
		router := newTestRouter(t, mockService)

		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		req.RemoteAddr = "203.0.113.5:5555"
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Equal(t, models.ErrorCodeMissingClientIP, decodeError(t, recorder.Body).Code)
		assert.Empty(t, recorder.Header().Get("X-RateLimit-Limit"), "limiter was not consulted")
	})

	t.Run("remote addr when trusted", func(t *testing.T) {
		mockService := &MockGateService{}
		mockService.On("Click", mock.Anything, mock.MatchedBy(func(r *models.ClickRequest) bool {
			return r.RemoteIP == "203.0.113.5"
		})).Return(&models.ClickResponse{Message: "ok", Count: 1}, testInfo(), nil)
		router := newTestRouter(t, mockService, WithClientIP([]string{"X-Client"}, true))

		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"cf_token":"t","clicked":true}`))
		req.RemoteAddr = "203.0.113.5:5555"
		req.Header.Set("CF-Connecting-IP", "192.0.2.1")
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusOK, recorder.Code)
		mockService.AssertExpectations(t)
	})
}

func TestHandlers_Click_ServiceErrors(t *testing.T) {
	limited := ratelimit.Info{Limit: 10, Remaining: 0, ResetAt: time.Unix(1_700_000_010, 0), RetryAfter: time.Second}

	tests := []struct {
		name           string
		info           ratelimit.Info
		err            error
		expectedStatus int
		expectedCode   string
		expectedMsg    string
	}{
		{
			name:           "rate limited",
			info:           limited,
			err:            gate.NewRateLimitedError(time.Second),
			expectedStatus: http.StatusTooManyRequests,
			expectedCode:   models.ErrorCodeRateLimitExceeded,
			expectedMsg:    "Rate limit exceeded",
		},
		{
			name:           "limiter unavailable",
			err:            gate.NewLimiterUnavailableError(ratelimit.ErrStoreUnavailable),
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   models.ErrorCodeLimiterUnavailable,
			expectedMsg:    "Could not connect to rate limiter",
		},
		{
			name:           "not clicked",
			info:           testInfo(),
			err:            gate.NewNotClickedError(models.ErrNotClicked),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.ErrorCodeNotClicked,
			expectedMsg:    "Button not clicked",
		},
		{
			name:           "captcha invalid",
			info:           testInfo(),
			err:            gate.NewCaptchaInvalidError(errors.New("rejected")),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   models.ErrorCodeCaptchaInvalid,
			expectedMsg:    "Captcha validation failed",
		},
		{
			name:           "captcha timeout",
			info:           testInfo(),
			err:            gate.NewCaptchaTimeoutError(errors.New("deadline")),
			expectedStatus: http.StatusGatewayTimeout,
			expectedCode:   models.ErrorCodeCaptchaTimeout,
		},
		{
			name:           "counter failure",
			info:           testInfo(),
			err:            gate.NewInternalError("failed to increment counter", errors.New("disk full")),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   models.ErrorCodeInternalError,
		},
		{
			name:           "unexpected error",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   models.ErrorCodeInternalError,
			expectedMsg:    "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockGateService{}
			mockService.On("Click", mock.Anything, mock.Anything).Return(nil, tt.info, tt.err)
			router := newTestRouter(t, mockService)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/click", strings.NewReader(`{"cf_token":"t","clicked":true}`))
			req.Header.Set("CF-Connecting-IP", "192.0.2.1")
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, req)

			assert.Equal(t, tt.expectedStatus, recorder.Code)
			resp := decodeError(t, recorder.Body)
			assert.Equal(t, "error", resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Code)
			if tt.expectedMsg != "" {
				assert.Equal(t, tt.expectedMsg, resp.Message)
			}
			assert.NotContains(t, resp.Message, "disk full", "internal causes are not leaked")
		})
	}
}

func TestHandlers_Click_RateLimitedHeaders(t *testing.T) {
	mockService := &MockGateService{}
	mockService.On("Click", mock.Anything, mock.Anything).Return(nil,
		ratelimit.Info{Limit: 10, Remaining: 0, ResetAt: time.Unix(1_700_000_010, 0), RetryAfter: time.Second},
		gate.NewRateLimitedError(time.Second))
	router := newTestRouter(t, mockService)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set("CF-Connecting-IP", "192.0.2.1")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.Equal(t, "1", recorder.Header().Get("Retry-After"))
	assert.Equal(t, "0", recorder.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "1000", decodeError(t, recorder.Body).Details["retry_after_ms"])
}

func TestHandlers_GetCounter(t *testing.T) {
	mockService := &MockGateService{}
	mockService.On("Count", mock.Anything).Return(&models.CounterResponse{Name: "clicks", Count: 7}, nil)
	router := newTestRouter(t, mockService)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/counter", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.JSONEq(t, `{"name":"clicks","count":7}`, recorder.Body.String())
}

func TestHandlers_GetCounter_Error(t *testing.T) {
	mockService := &MockGateService{}
	mockService.On("Count", mock.Anything).Return(nil, gate.NewInternalError("failed to read counter", errors.New("down")))
	router := newTestRouter(t, mockService)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/counter", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
}

func TestHandlers_HealthCheck(t *testing.T) {
	handlers := NewHandlers(&MockGateService{}, WithVersion("1.2.3"))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()

	handlers.HealthCheck(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var response map[string]interface{}
	err := json.Unmarshal(recorder.Body.Bytes(), &response)
	require.NoError(t, err)

	assert.Equal(t, "healthy", response["status"])
	assert.NotEmpty(t, response["timestamp"])
	assert.Equal(t, "1.2.3", response["version"])
}

func TestHandlers_HealthCheck_WithStorage(t *testing.T) {
	handlers := NewHandlers(&MockGateService{}, WithStorage(&pingStorage{}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	recorder := httptest.NewRecorder()

	handlers.HealthCheck(recorder, req)

	assert.Equal(t, http.StatusOK, recorder.Code)

	var response map[string]interface{}
	err := json.Unmarshal(recorder.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "healthy", response["status"])

	components := response["components"].(map[string]interface{})
	storageComp := components["storage"].(map[string]interface{})
	assert.Equal(t, "healthy", storageComp["status"])
}

func TestHandlers_HealthCheck_StorageUnhealthy(t *testing.T) {
	store := &pingStorage{pingErr: errors.New("connection refused")}
	handlers := NewHandlers(&MockGateService{}, WithStorage(store))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	recorder := httptest.NewRecorder()

	handlers.HealthCheck(recorder, req)

	assert.Equal(t, http.StatusServiceUnavailable, recorder.Code)

	var response map[string]interface{}
	err := json.Unmarshal(recorder.Body.Bytes(), &response)
	require.NoError(t, err)
	assert.Equal(t, "unhealthy", response["status"])

	components := response["components"].(map[string]interface{})
	storageComp := components["storage"].(map[string]interface{})
	assert.Equal(t, "unhealthy", storageComp["status"])
	assert.Contains(t, storageComp["message"], "connection refused")
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, &MockGateService{})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/click"},
		{http.MethodDelete, "/"},
		{http.MethodPost, "/api/v1/counter"},
	} {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		recorder := httptest.NewRecorder()
		router.ServeHTTP(recorder, req)

		assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRoutes_NotFound(t *testing.T) {
	router := newTestRouter(t, &MockGateService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
	assert.Equal(t, models.ErrorCodeNotFound, decodeError(t, recorder.Body).Code)
}
