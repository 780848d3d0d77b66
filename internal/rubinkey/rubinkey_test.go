package rubinkey

import (
	"errors"
	"testing"
	"time"

	"github.com/lsst-live/rubintv/internal/rubinerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventRoundTrip(t *testing.T) {
	key := "auxtel/2024-05-01/monitor/000042/auxtel_monitor_2024-05-01_000042.jpg"
	ev, err := ParseEvent(key, "etag-1")
	require.NoError(t, err)

	assert.Equal(t, "auxtel", ev.CameraName)
	assert.Equal(t, "2024-05-01", ev.DayObs)
	assert.Equal(t, "monitor", ev.ChannelName)
	assert.Equal(t, 42, ev.SeqNum)
	assert.Equal(t, "jpg", ev.Ext)
	assert.Equal(t, key, BuildEventKey(ev))
}

func TestParseEventFinalSeq(t *testing.T) {
	key := "allsky/2024-05-01/movie/final/allsky_movie_2024-05-01_final.mp4"
	ev, err := ParseEvent(key, "etag-2")
	require.NoError(t, err)

	assert.Equal(t, SeqFinal, ev.SeqNum)
	assert.Equal(t, key, BuildEventKey(ev))
}

func TestParseEventMalformedSkipsNotAborts(t *testing.T) {
	_, err := ParseEvent("not-a-valid-key", "etag")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rubinerrors.ErrParse))
}

func TestParseEventBadDate(t *testing.T) {
	_, err := ParseEvent("auxtel/05-01-2024/monitor/000001/x.jpg", "etag")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rubinerrors.ErrParse))
}

func TestParseEventFilenameRebuildsKey(t *testing.T) {
	ev, err := ParseEventFilename("auxtel", "monitor", "auxtel_monitor_2024-05-01_000042.jpg", "etag-3")
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01", ev.DayObs)
	assert.Equal(t, 42, ev.SeqNum)
	assert.Equal(t, "jpg", ev.Ext)
	assert.Equal(t, "auxtel/2024-05-01/monitor/000042/auxtel_monitor_2024-05-01_000042.jpg", ev.Key)
}

func TestParseEventFilenameMismatchedCameraIsError(t *testing.T) {
	_, err := ParseEventFilename("auxtel", "monitor", "other_monitor_2024-05-01_000042.jpg", "etag")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rubinerrors.ErrParse))
}

func TestParseEventFilenameMalformedIsError(t *testing.T) {
	_, err := ParseEventFilename("auxtel", "monitor", "not-a-filename", "etag")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rubinerrors.ErrParse))
}

func TestParseNightReportText(t *testing.T) {
	key := "auxtel/2024-05-01/night_report/summary/airmass.json"
	nr, err := ParseNightReport(key, "etag-3")
	require.NoError(t, err)

	assert.Equal(t, "auxtel", nr.Camera)
	assert.Equal(t, "summary", nr.Group)
	assert.False(t, nr.IsPlot())
	assert.Equal(t, key, BuildNightReportKey(nr))
}

func TestParseNightReportPlot(t *testing.T) {
	nr, err := ParseNightReport("auxtel/2024-05-01/night_report/summary/airmass.png", "etag")
	require.NoError(t, err)
	assert.True(t, nr.IsPlot())
}

func TestIsMetadataKey(t *testing.T) {
	assert.True(t, IsMetadataKey("auxtel/2024-05-01/metadata.json"))
	assert.False(t, IsMetadataKey("auxtel/2024-05-01/monitor/000001/x.jpg"))
	assert.False(t, IsMetadataKey("metadata.json"))
}

func TestIsNightReportKey(t *testing.T) {
	assert.True(t, IsNightReportKey("auxtel/2024-05-01/night_report/summary/airmass.json"))
	assert.False(t, IsNightReportKey("auxtel/2024-05-01/monitor/000001/x.jpg"))
}

func TestEventEqualityByKeyAndHash(t *testing.T) {
	a := Event{Key: "k", Hash: "h1"}
	b := Event{Key: "k", Hash: "h1", URL: "https://example.com/presigned"}
	c := Event{Key: "k", Hash: "h2"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestBuildDayPrefixAndMetadataKey(t *testing.T) {
	assert.Equal(t, "auxtel/2024-05-01", BuildDayPrefix("auxtel", "2024-05-01"))
	assert.Equal(t, "auxtel/2024-05-01/metadata.json", BuildMetadataKey("auxtel", "2024-05-01"))
}

func TestCurrentDayObsAtRollsOverAtUTCNoon(t *testing.T) {
	before := time.Date(2024, 5, 1, 11, 59, 0, 0, time.UTC)
	after := time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)

	assert.Equal(t, "2024-04-30", CurrentDayObsAt(before))
	assert.Equal(t, "2024-05-01", CurrentDayObsAt(after))
}
