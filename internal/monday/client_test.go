package monday

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	headers  []http.Header
	reply    func(n int, req recordedRequest) (int, string)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req recordedRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.headers = append(f.headers, r.Header.Clone())
	n := len(f.requests)
	f.mu.Unlock()

	status, body := f.reply(n, req)
	w.WriteHeader(status)
	w.Write([]byte(body))
}

func newTestClient(t *testing.T, api *fakeAPI, retries uint64) *Client {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{APIKey: "key", Endpoint: srv.URL, APIVersion: "2024-10", MaxRetries: retries})
	require.NoError(t, err)
	c.retryInitial = time.Millisecond
	return c
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

func TestCreateBoard(t *testing.T) {
	api := &fakeAPI{reply: func(int, recordedRequest) (int, string) {
		return 200, `{"data":{"create_board":{"id":"123"}}}`
	}}
	c := newTestClient(t, api, 0)

	id, err := c.CreateBoard(context.Background(), "Proj", "public")
	require.NoError(t, err)
	assert.Equal(t, "123", id)

	require.Len(t, api.requests, 1)
	assert.Contains(t, api.requests[0].Query, "create_board")
	assert.Equal(t, "Proj", api.requests[0].Variables["name"])
	assert.Equal(t, "public", api.requests[0].Variables["kind"])
	assert.Equal(t, "key", api.headers[0].Get("Authorization"))
	assert.Equal(t, "2024-10", api.headers[0].Get("API-Version"))
}

func TestDeleteDefaultGroupPrefersTopics(t *testing.T) {
	api := &fakeAPI{reply: func(n int, req recordedRequest) (int, string) {
		if strings.Contains(req.Query, "boards") {
			return 200, `{"data":{"boards":[{"groups":[{"id":"new_group"},{"id":"topics"}]}]}}`
		}
		return 200, `{"data":{"delete_group":{"id":"topics"}}}`
	}}
	c := newTestClient(t, api, 0)

	id, err := c.DeleteDefaultGroup(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, "topics", id)
	require.Len(t, api.requests, 2)
	assert.Equal(t, "topics", api.requests[1].Variables["group"])
}

func TestAssignColumnsEncodesValues(t *testing.T) {
	api := &fakeAPI{reply: func(int, recordedRequest) (int, string) {
		return 200, `{"data":{"change_multiple_column_values":{"id":"9"}}}`
	}}
	c := newTestClient(t, api, 0)

	err := c.AssignColumns(context.Background(), "1", "9", map[string]any{
		"date4": map[string]string{"date": "2024-06-03"},
	})
	require.NoError(t, err)

	encoded, ok := api.requests[0].Variables["values"].(string)
	require.True(t, ok, "column values are sent as a JSON string")
	assert.JSONEq(t, `{"date4":{"date":"2024-06-03"}}`, encoded)
}

func TestGraphQLErrorIsRemoteError(t *testing.T) {
	api := &fakeAPI{reply: func(int, recordedRequest) (int, string) {
		return 200, `{"errors":[{"message":"Board not found","extensions":{"code":"InvalidBoardIdException"}}]}`
	}}
	c := newTestClient(t, api, 3)

	_, err := c.CreateGroup(context.Background(), "1", "Phase A")
	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, "InvalidBoardIdException", remoteErr.Code)
	assert.Contains(t, remoteErr.Error(), "Board not found")
	assert.Len(t, api.requests, 1, "non-retriable errors are not retried")
}

func TestRetriesRateLimit(t *testing.T) {
	api := &fakeAPI{reply: func(n int, req recordedRequest) (int, string) {
		if n < 3 {
			return http.StatusTooManyRequests, `{"error_message":"Rate limit exceeded"}`
		}
		return 200, `{"data":{"create_item":{"id":"77"}}}`
	}}
	c := newTestClient(t, api, 3)

	id, err := c.CreateItem(context.Background(), "1", "g", "Task 1")
	require.NoError(t, err)
	assert.Equal(t, "77", id)
	assert.Len(t, api.requests, 3)
}

func TestRetriesExhausted(t *testing.T) {
	api := &fakeAPI{reply: func(int, recordedRequest) (int, string) {
		return http.StatusInternalServerError, `oops`
	}}
	c := newTestClient(t, api, 1)

	_, err := c.ResolveSubitemBoard(context.Background(), "1")
	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusInternalServerError, remoteErr.Status)
	assert.Len(t, api.requests, 2)
}

func TestCreateIsNotRetriedOnServerError(t *testing.T) {
	api := &fakeAPI{reply: func(int, recordedRequest) (int, string) {
		return http.StatusBadGateway, `upstream`
	}}
	c := newTestClient(t, api, 3)

	_, err := c.CreateSubitem(context.Background(), "1", "Sub 1")
	var remoteErr *RemoteError
	require.True(t, errors.As(err, &remoteErr))
	assert.Equal(t, http.StatusBadGateway, remoteErr.Status)
	assert.True(t, remoteErr.Retriable(), "the row is still retried on resume")
	assert.Len(t, api.requests, 1, "a create may have been committed before the 5xx")
}

func TestCreateIsRetriedWhenThrottled(t *testing.T) {
	api := &fakeAPI{reply: func(n int, req recordedRequest) (int, string) {
		if n == 1 {
			return 200, `{"errors":[{"message":"Complexity budget exhausted","extensions":{"code":"ComplexityException"}}]}`
		}
		return 200, `{"data":{"create_board":{"id":"9"}}}`
	}}
	c := newTestClient(t, api, 3)

	id, err := c.CreateBoard(context.Background(), "Proj", "public")
	require.NoError(t, err)
	assert.Equal(t, "9", id)
	assert.Len(t, api.requests, 2)
}

func TestResolveSubitemBoard(t *testing.T) {
	api := &fakeAPI{reply: func(int, recordedRequest) (int, string) {
		return 200, `{"data":{"items":[{"board":{"id":"555"}}]}}`
	}}
	c := newTestClient(t, api, 0)

	id, err := c.ResolveSubitemBoard(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "555", id)
}

func TestResolveSubitemBoardMissing(t *testing.T) {
	api := &fakeAPI{reply: func(int, recordedRequest) (int, string) {
		return 200, `{"data":{"items":[]}}`
	}}
	c := newTestClient(t, api, 0)

	_, err := c.ResolveSubitemBoard(context.Background(), "42")
	assert.Error(t, err)
}
