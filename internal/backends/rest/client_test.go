package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/qaflow/internal/qa"
)

func TestClient_JSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/items", r.URL.Path)
		assert.Equal(t, "open", r.URL.Query().Get("state"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "x", in["name"])

		_ = json.NewEncoder(w).Encode(map[string]int{"count": 3})
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL + "/", Auth: TokenAuth("", "tok")})

	var out struct{ Count int }
	err := c.JSON(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/api/items",
		Query:  url.Values{"state": {"open"}},
		Body:   map[string]string{"name": "x"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Count)
}

func TestClient_BasicAuthAndForm(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "bot", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "feature/x", r.URL.Query().Get("BRANCH"))
		w.Header().Set("Location", "/queue/item/7/")
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	c := New(Options{BaseURL: server.URL, Auth: TokenAuth("bot", "secret")})
	resp, err := c.Do(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "job/e2e/buildWithParameters",
		Form:   url.Values{"BRANCH": {"feature/x"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "/queue/item/7/", resp.Header.Get("Location"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   qa.Kind
	}{
		{http.StatusNotFound, qa.KindNotFound},
		{http.StatusTooManyRequests, qa.KindTransient},
		{http.StatusBadGateway, qa.KindTransient},
		{http.StatusServiceUnavailable, qa.KindTransient},
		{http.StatusBadRequest, qa.KindInternal},
		{http.StatusUnauthorized, qa.KindInternal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", tt.status)
			}))
			defer server.Close()

			_, err := New(Options{BaseURL: server.URL}).Do(context.Background(), Request{Path: "x"})
			require.Error(t, err)

			var se *StatusError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, tt.status, se.StatusCode)
			assert.Equal(t, tt.want, qa.KindOf(Classify("test.op", err, "id")))
		})
	}
}

func TestClassify_NetworkAndContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := New(Options{BaseURL: addr}).Do(context.Background(), Request{Path: "x"})
	require.Error(t, err)
	assert.Equal(t, qa.KindTransient, qa.KindOf(Classify("test.op", err, "")))

	assert.True(t, errors.Is(Classify("test.op", context.Canceled, ""), context.Canceled))
	assert.Nil(t, Classify("test.op", nil, ""))
}
