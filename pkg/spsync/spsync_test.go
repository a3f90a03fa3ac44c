package spsync_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sellpoint/sellpoint-client/pkg/appcontext"
	"github.com/sellpoint/sellpoint-client/pkg/models"
	"github.com/sellpoint/sellpoint-client/pkg/spsync"
)

func TestPushOperationSendsHeadersAndBody(t *testing.T) {
	var got spsync.PushRequest
	var auth, business, path string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		business = r.Header.Get("X-Business-ID")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := spsync.NewClient(srv.URL, "token-1", "biz-1", time.Second)

	op := models.SyncOperation{
		ID:        "op-1",
		Table:     models.TableProducts,
		Kind:      models.OpCreate,
		Payload:   map[string]string{"id": "p1"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, client.PushOperation(context.Background(), op))

	assert.Equal(t, "/api/sync/products", path)
	assert.Equal(t, "Bearer token-1", auth)
	assert.Equal(t, "biz-1", business)
	assert.Equal(t, "create", got.Operation)
	assert.Equal(t, "op-1", got.SyncID)
	assert.Equal(t, "p1", got.Data["id"])
}

func TestContextOverridesCredentials(t *testing.T) {
	var auth, business string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		business = r.Header.Get("X-Business-ID")
	}))
	defer srv.Close()

	client := spsync.NewClient(srv.URL, "token-1", "biz-1", time.Second)

	ctx := appcontext.WithAuthToken(context.Background(), "token-2")
	ctx = appcontext.WithBusinessID(ctx, "biz-2")
	require.NoError(t, client.SendDiagnostic(ctx, map[string]int{"n": 1}))

	assert.Equal(t, "Bearer token-2", auth)
	assert.Equal(t, "biz-2", business)
}

func TestPullDecodesEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req spsync.PullRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "biz-1", req.BusinessID)

		json.NewEncoder(w).Encode(spsync.PullResponse{Data: []spsync.PullEntry{
			{Table: "products", Operation: "update", Data: map[string]string{"id": "p1"}, UserID: "other", Timestamp: time.Now()},
		}})
	}))
	defer srv.Close()

	client := spsync.NewClient(srv.URL, "", "biz-1", time.Second)
	entries, err := client.Pull(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "update", entries[0].Operation)
}

func TestServerErrorsMapToTaxonomy(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte("bad payload"))
	}))
	defer srv.Close()

	client := spsync.NewClient(srv.URL, "", "", time.Second)
	op := models.SyncOperation{ID: "op-1", Table: models.TableSales, Kind: models.OpCreate}

	err := client.PushOperation(context.Background(), op)
	assert.ErrorIs(t, err, spsync.ErrNetworkUnavailable)

	status = http.StatusBadRequest
	err = client.PushOperation(context.Background(), op)
	var rej *spsync.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusBadRequest, rej.Status)
}

func TestUnreachableServerIsTransient(t *testing.T) {
	client := spsync.NewClient("http://127.0.0.1:1", "", "", 200*time.Millisecond)
	_, err := client.Pull(context.Background(), time.Time{})
	assert.ErrorIs(t, err, spsync.ErrNetworkUnavailable)
}

func TestTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client := spsync.NewClient(srv.URL, "", "", 50*time.Millisecond)
	err := client.SendBackup(context.Background(), map[string]string{})
	assert.ErrorIs(t, err, spsync.ErrNetworkUnavailable)
}

func TestCreateTicket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tickets", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{"ticketId": "t-99"})
	}))
	defer srv.Close()

	client := spsync.NewClient(srv.URL, "", "", time.Second)
	id, err := client.CreateTicket(context.Background(), spsync.Ticket{Subject: "printer down"})
	require.NoError(t, err)
	assert.Equal(t, "t-99", id)
}
