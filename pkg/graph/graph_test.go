package graph

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestExecuteQueries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/$batch", r.URL.Path)
		require.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))

		var batch batchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		require.Len(t, batch.Requests, 3)
		assert.Equal(t, "/me/memberOf", batch.Requests[1].URL)

		// Out of order on purpose.
		_, _ = w.Write([]byte(`{"responses":[
			{"id":"2","status":200,"body":{"@odata.context":"ctx","value":[{"displayName":"Readers"}]}},
			{"id":"3","status":404,"body":{"error":{"code":"NotFound","message":"no photo"}}},
			{"id":"1","status":200,"body":{"@odata.context":"ctx","displayName":"Jane"}}
		]}`))
	}))
	t.Cleanup(srv.Close)

	svc := NewService(srv.Client(), srv.URL)
	results, err := svc.ExecuteQueries(context.Background(), "access-token",
		[]string{"me", "me/memberOf", "me/photo/$value"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "Jane", gjson.Get(results[0], "displayName").String())
	assert.False(t, gjson.Get(results[0], "@odata\\.context").Exists(), "odata annotations stripped")

	assert.Equal(t, "Readers", gjson.Get(results[1], "value.0.displayName").String())

	assert.Equal(t, int64(404), gjson.Get(results[2], "error_status").Int())
	assert.Equal(t, "no photo", gjson.Get(results[2], "error_message").String())
}

func TestExecuteQueriesBinaryBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"responses":[{"id":"1","status":200,"body":"aGVsbG8="}]}`))
	}))
	t.Cleanup(srv.Close)

	svc := NewService(srv.Client(), srv.URL)
	results, err := svc.ExecuteQueries(context.Background(), "tok", []string{"me/photo/$value"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "aGVsbG8=", results[0])
}

func TestExecuteQueriesNoQueries(t *testing.T) {
	t.Parallel()

	svc := NewService(http.DefaultClient, "")
	results, err := svc.ExecuteQueries(context.Background(), "tok", nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestExecuteQueriesBatchFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	svc := NewService(srv.Client(), srv.URL)
	_, err := svc.ExecuteQueries(context.Background(), "expired", []string{"me"})
	assert.ErrorContains(t, err, "401")
}
