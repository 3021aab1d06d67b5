package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/docs"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/debtors/1/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", docs.DebtorInfoContentType)
		_, _ = w.Write([]byte(`{"name":"Euro"}`))
	})
	mux.HandleFunc("/transfers/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/gone") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/busy") {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetch(t *testing.T) {
	server := newTestServer(t)
	client, err := NewClient(5 * time.Second)
	require.NoError(t, err)

	content, contentType, err := client.Fetch(context.Background(), server.URL+"/debtors/1/info")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Euro"}`, string(content))
	assert.Equal(t, docs.DebtorInfoContentType, contentType)

	_, _, err = client.Fetch(context.Background(), server.URL+"/missing")
	assert.True(t, errors.Is(err, ErrUnexpectedStatus))
}

func TestDelete(t *testing.T) {
	server := newTestServer(t)
	client, err := NewClient(5 * time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, client.DeleteTransfer(ctx, server.URL+"/transfers/1"))
	assert.NoError(t, client.DeleteTransfer(ctx, server.URL+"/transfers/gone"))
	assert.ErrorIs(t, client.DeleteAccount(ctx, server.URL+"/transfers/busy"), ErrUnexpectedStatus)
}
