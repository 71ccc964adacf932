package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patientwatch/patientwatch/internal/config"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_PATIENTS_KEY", "k-123")
	return New(config.APIConfig{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
		Auth:    config.AuthConfig{Mode: "apikey", Header: "x-api-key", KeyEnv: "TEST_PATIENTS_KEY"},
	}, nil)
}

const pageBody = `{
  "data": [
    {"patient_id": "DEMO001", "name": "A", "age": 45, "blood_pressure": "120/80", "temperature": 98.6},
    {"patient_id": "DEMO002", "name": "B", "age": "unknown", "blood_pressure": null, "temperature": "TEMP_ERROR"}
  ],
  "pagination": {"page": 2, "limit": 2, "total": 5, "totalPages": 3, "hasNext": true, "hasPrevious": true},
  "metadata": {"timestamp": "2025-07-15T23:01:05.059Z"}
}`

func TestFetchPage_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PatientsPath, r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "k-123", r.Header.Get("x-api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(pageBody))
	})

	page, err := c.FetchPage(context.Background(), 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "DEMO001", page.Data[0].PatientID)
	assert.Equal(t, float64(45), page.Data[0].Age)
	assert.Equal(t, "unknown", page.Data[1].Age)
	assert.Nil(t, page.Data[1].BloodPressure)
	assert.Equal(t, 5, page.Pagination.Total)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.True(t, page.Pagination.HasNext)
}

func TestFetchPage_FillsMissingPagination(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": [], "pagination": {"total": 45, "limit": 20}}`))
	})

	page, err := c.FetchPage(context.Background(), 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Page)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.NotNil(t, page.Data)
}

func TestFetchPage_RateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "Rate limit exceeded", "retry_after": 10}`))
	})

	_, err := c.FetchPage(context.Background(), 1, 20)
	fe, ok := AsError(err)
	require.True(t, ok, "want *Error, got %T", err)
	assert.Equal(t, http.StatusTooManyRequests, fe.StatusCode)
	assert.True(t, fe.IsRateLimited())
	require.NotNil(t, fe.RetryAfterSeconds)
	assert.Equal(t, 10.0, *fe.RetryAfterSeconds)
	assert.Equal(t, "Rate limit exceeded", fe.Message)
}

func TestFetchPage_RetryAfterHeaderFallback(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.FetchPage(context.Background(), 1, 20)
	fe, ok := AsError(err)
	require.True(t, ok)
	require.NotNil(t, fe.RetryAfterSeconds)
	assert.Equal(t, 3.0, *fe.RetryAfterSeconds)
}

func TestFetchPage_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("<html>down</html>"))
	})

	_, err := c.FetchPage(context.Background(), 1, 20)
	fe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	assert.True(t, fe.IsServerError())
	assert.Nil(t, fe.RetryAfterSeconds)
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))
}

func TestFetchPage_BadBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	})

	_, err := c.FetchPage(context.Background(), 1, 20)
	fe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, 0, fe.StatusCode)
	assert.Error(t, fe.Unwrap())
}

func TestFetchPage_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(config.APIConfig{BaseURL: url, Timeout: time.Second}, nil)
	_, err := c.FetchPage(context.Background(), 1, 20)
	fe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, 0, fe.StatusCode)
	assert.Contains(t, fe.Error(), "network error")
}

func TestFetchPage_ContextCanceled(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchPage(ctx, 1, 20)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestAuthRoundTripper_Bearer(t *testing.T) {
	t.Setenv("TEST_TOKEN", "tok")
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	c := New(config.APIConfig{
		BaseURL: srv.URL,
		Timeout: time.Second,
		Auth:    config.AuthConfig{Mode: "bearer", TokenEnv: "TEST_TOKEN"},
	}, nil)
	_, err := c.FetchPage(context.Background(), 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", got)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantRA  *float64
		wantMsg string
	}{
		{"string retry_after", 429, `{"retry_after": "2.5"}`, ptr(2.5), "Too Many Requests"},
		{"negative retry_after", 429, `{"retry_after": -1}`, nil, "Too Many Requests"},
		{"infinite retry_after", 429, `{"retry_after": "Infinity"}`, nil, "Too Many Requests"},
		{"NaN retry_after", 429, `{"retry_after": "NaN"}`, nil, "Too Many Requests"},
		{"huge retry_after", 429, `{"retry_after": 1e300}`, ptr(1e300), "Too Many Requests"},
		{"message field", 500, `{"message": "boom"}`, nil, "boom"},
		{"empty body", 502, ``, nil, "Bad Gateway"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fe := Classify(tc.status, []byte(tc.body), nil)
			assert.Equal(t, tc.status, fe.StatusCode)
			assert.Equal(t, tc.wantMsg, fe.Message)
			if tc.wantRA == nil {
				assert.Nil(t, fe.RetryAfterSeconds)
			} else {
				require.NotNil(t, fe.RetryAfterSeconds)
				assert.Equal(t, *tc.wantRA, *fe.RetryAfterSeconds)
			}
		})
	}
}

func ptr(f float64) *float64 { return &f }
