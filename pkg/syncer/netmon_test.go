package syncer_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sellpoint/sellpoint-client/pkg/syncer"
)

func TestMonitorFiresOnlyOnOfflineToOnline(t *testing.T) {
	fired := 0
	m := syncer.NewMonitor(func() { fired++ })

	require.False(t, m.Online())

	m.Set(true)
	require.True(t, m.Online())
	require.Equal(t, 1, fired)

	// Staying online is not a transition.
	m.Set(true)
	require.Equal(t, 1, fired)

	m.Set(false)
	require.False(t, m.Online())
	require.Equal(t, 1, fired)

	m.Set(true)
	require.Equal(t, 2, fired)
}

func TestDialProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	defer srv.Close()

	ctx := context.Background()

	probe := syncer.DialProber(srv.URL, time.Second)
	require.True(t, probe(ctx))

	srv.Close()
	require.False(t, probe(ctx))

	bad := syncer.DialProber("http://127.0.0.1:1", 200*time.Millisecond)
	require.False(t, bad(ctx))
}
