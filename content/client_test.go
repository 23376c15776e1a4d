package content

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateAuthDedupsAndOrders(t *testing.T) {
	got := AggregateAuth([]string{"bearer-b", "bearer-a", "bearer-b", "", "bearer-a"})
	assert.Equal(t, "bearer-a,bearer-b", got)
}

func TestAggregateAuthEmpty(t *testing.T) {
	assert.Equal(t, "", AggregateAuth(nil))
}

func TestGetReturnsBodyOnOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-x", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<main><p>hi</p></main>"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	body, err := c.Get(context.Background(), "doc-a", "token-x")
	require.NoError(t, err)
	assert.Equal(t, "<main><p>hi</p></main>", body)
}

func TestGetReturnsEmptyHTMLOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	body, err := c.Get(context.Background(), "doc-new", "")
	require.NoError(t, err)
	assert.Equal(t, EmptyHTML, body)
}

func TestGetNonRetryableStatusFailsImmediately(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Get(context.Background(), "doc-a", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, 1, attempts, "a received status is not a transport failure, must not retry")
}

func TestPutSendsMultipartHTMLField(t *testing.T) {
	var gotContentType, gotInitiator string
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotInitiator = r.Header.Get("X-DA-Initiator")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Put(context.Background(), "doc-a", "token-x", "<main><p>hi</p></main>")
	require.NoError(t, err)
	assert.Contains(t, gotContentType, "multipart/form-data")
	assert.Equal(t, "collab", gotInitiator)
	assert.Contains(t, gotBody, `name="data"`)
	assert.Contains(t, gotBody, "text/html")
	assert.Contains(t, gotBody, "<main><p>hi</p></main>")
}

func TestPutForbiddenOn401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	err := c.Put(context.Background(), "doc-a", "token-x", "<main></main>")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrForbidden)
}
