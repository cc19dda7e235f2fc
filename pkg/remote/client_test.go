package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{BaseURL: "https://api.example.com/v2"}},
		{name: "missing base", cfg: Config{}, wantErr: true},
		{name: "no scheme", cfg: Config{BaseURL: "api.example.com"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultTimeout, client.timeout)
		})
	}
}

func TestClientDo(t *testing.T) {
	var gotAuth, gotVersion, gotPath, gotQuery, gotContentType string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotVersion = r.Header.Get("Notion-Version")
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotContentType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc"}`))
	}))
	defer server.Close()

	client, err := NewClient(Config{
		BaseURL: server.URL + "/v1/",
		Token:   "secret",
		Headers: map[string]string{"Notion-Version": "2022-06-28"},
	})
	require.NoError(t, err)

	t.Run("post with body", func(t *testing.T) {
		var out struct {
			ID string `json:"id"`
		}
		err := client.Post(context.Background(), "/pages", map[string]string{"name": "x"}, &out)
		require.NoError(t, err)
		assert.Equal(t, "abc", out.ID)
		assert.Equal(t, "Bearer secret", gotAuth)
		assert.Equal(t, "2022-06-28", gotVersion)
		assert.Equal(t, "/v1/pages", gotPath)
		assert.Equal(t, "application/json", gotContentType)
		assert.JSONEq(t, `{"name":"x"}`, string(gotBody))
	})

	t.Run("get with query", func(t *testing.T) {
		var raw []byte
		err := client.Get(context.Background(), "catalog/properties", url.Values{"page": {"2"}}, &raw)
		require.NoError(t, err)
		assert.Equal(t, "page=2", gotQuery)
		assert.JSONEq(t, `{"id":"abc"}`, string(raw))
	})
}

func TestClientDoErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"not found"}`))
		case "/garbage":
			_, _ = w.Write([]byte(`not json`))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{}`))
		}
	}))
	defer server.Close()

	client, err := NewClient(Config{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	t.Run("non success status", func(t *testing.T) {
		err := client.Get(context.Background(), "/missing", nil, nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrRemoteRequest))
		var reqErr *RequestError
		require.True(t, errors.As(err, &reqErr))
		assert.Equal(t, http.StatusNotFound, reqErr.StatusCode)
		assert.Contains(t, reqErr.Body, "not found")
		assert.Equal(t, http.StatusNotFound, StatusCode(err))
	})

	t.Run("undecodable body", func(t *testing.T) {
		var out map[string]interface{}
		err := client.Get(context.Background(), "/garbage", nil, &out)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMalformedResponse))
	})

	t.Run("timeout", func(t *testing.T) {
		err := client.Get(context.Background(), "/slow", nil, nil)
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrRemoteRequest))
		assert.Equal(t, 0, StatusCode(err))
	})
}

func TestMalformedResponseError(t *testing.T) {
	err := Missing("list tracking plans", "trackingPlans")
	assert.Contains(t, err.Error(), "trackingPlans")
	assert.True(t, errors.Is(err, ErrMalformedResponse))
	assert.False(t, errors.Is(err, ErrRemoteRequest))
}
