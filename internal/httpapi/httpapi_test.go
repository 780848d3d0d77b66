package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsst-live/rubintv/internal/fixtures"
	"github.com/lsst-live/rubintv/internal/historical"
	"github.com/lsst-live/rubintv/internal/hub"
	"github.com/lsst-live/rubintv/internal/objectstore"
	"github.com/lsst-live/rubintv/internal/poller"
	"github.com/lsst-live/rubintv/internal/query"
	"github.com/lsst-live/rubintv/internal/rubinkey"
)

func testFixtures() *fixtures.Registry {
	return fixtures.NewRegistry([]fixtures.Location{
		{
			Name:       "slac",
			BucketName: "slac-bucket",
			Cameras: []fixtures.Camera{
				{
					Name:   "ts8",
					Online: true,
					Channels: []fixtures.Channel{
						{Name: "monitor"},
					},
				},
				{
					Name:   "offlinecam",
					Online: false,
				},
			},
		},
	})
}

func newTestServer(t *testing.T, fake *objectstore.Fake) (*httptest.Server, *historical.Cache) {
	t.Helper()
	reg := testFixtures()

	h := hub.New(reg, nil, zerolog.Nop())
	stop := make(chan struct{})
	go h.Run(stop)
	t.Cleanup(func() { close(stop) })

	stores := objectstore.NewTestRegistry(map[string]objectstore.Client{"slac": fake})

	p := poller.New(reg, stores, h, poller.Config{Interval: 15 * time.Millisecond, MaxInflight: 4, StorageTimeout: time.Second}, zerolog.Nop())
	hist := historical.New(reg, stores, zerolog.Nop())

	q := query.New(reg, p, hist, stores, 5*time.Minute)
	srv := New(reg, q, stores, h, hist, zerolog.Nop())

	ts := httptest.NewServer(srv.Router("/rubintv"))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	p.Run(ctx)

	return ts, hist
}

func today() string {
	return rubinkey.CurrentDayObs()
}

func TestHealthzAlwaysOK(t *testing.T) {
	ts, _ := newTestServer(t, objectstore.NewFake())
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyzReports503WhileHistoricalBusy(t *testing.T) {
	ts, _ := newTestServer(t, objectstore.NewFake())
	// historical.Build is never called here, so the cache stays busy.
	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestReadyzReportsOKAfterBuild(t *testing.T) {
	ts, hist := newTestServer(t, objectstore.NewFake())
	hist.Build(context.Background())
	resp, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCurrentForOfflineCameraReturnsEmptyNotError(t *testing.T) {
	ts, hist := newTestServer(t, objectstore.NewFake())
	hist.Build(context.Background())

	resp, err := http.Get(ts.URL + "/rubintv/api/slac/offlinecam/current")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, today(), body["date"])
	assert.Empty(t, body["channel_events"])
}

func TestCurrentUnknownLocationIsNotFound(t *testing.T) {
	ts, hist := newTestServer(t, objectstore.NewFake())
	hist.Build(context.Background())

	resp, err := http.Get(ts.URL + "/rubintv/api/nope/ts8/current")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventImageServesBytesWithRangeSupport(t *testing.T) {
	fake := objectstore.NewFake()
	key := "ts8/" + today() + "/monitor/000003/ts8_monitor_" + today() + "_000003.jpg"
	fake.PutRaw(key, "h1", []byte("hello-jpeg-bytes"))

	ts, hist := newTestServer(t, fake)
	hist.Build(context.Background())

	filename := "ts8_monitor_" + today() + "_000003.jpg"
	url := ts.URL + "/rubintv/event_image/slac/ts8/monitor/" + filename

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-4")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
}

func TestEventImageUnknownCameraIsNotFound(t *testing.T) {
	fake := objectstore.NewFake()
	ts, hist := newTestServer(t, fake)
	hist.Build(context.Background())

	filename := "ts8_monitor_" + today() + "_000001.jpg"
	resp, err := http.Get(ts.URL + "/rubintv/event_image/slac/nope/monitor/" + filename)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListLocationsReturnsRegistry(t *testing.T) {
	ts, hist := newTestServer(t, objectstore.NewFake())
	hist.Build(context.Background())

	resp, err := http.Get(ts.URL + "/rubintv/api/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var locs []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&locs))
	require.Len(t, locs, 1)
	assert.Equal(t, "slac", locs[0]["name"])
}
