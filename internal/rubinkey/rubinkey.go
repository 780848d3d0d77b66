// Package rubinkey parses object-store keys into structured Event,
// NightReport, and Metadata records, and builds prefixes for the
// inverse lookup. Key layout is the authoritative on-wire format from
// the service specification §6.
package rubinkey

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lsst-live/rubintv/internal/rubinerrors"
)

// SeqFinal is the ordering sentinel for the literal "final" sequence
// number (terminal records such as all-sky movies). It sorts above any
// six-digit zero-padded sequence number.
const SeqFinal = 1_000_000

const dateLayout = "2006-01-02"

var eventKeyRE = regexp.MustCompile(
	`^([^/]+)/(\d{4}-\d{2}-\d{2})/([^/]+)/(\d{6}|final)/([^/]+)\.([A-Za-z0-9]+)$`,
)

var eventFilenameRE = regexp.MustCompile(
	`^([^/_]+)_([^/_]+)_(\d{4}-\d{2}-\d{2})_(\d+|final)\.([A-Za-z0-9]+)$`,
)

var nightReportKeyRE = regexp.MustCompile(
	`^([^/]+)/(\d{4}-\d{2}-\d{2})/night_report/([^/]+)/([^/]+)\.([A-Za-z0-9]+)$`,
)

// Event is derived from an object key of the form
// {camera}/{day}/{channel}/{seq}/{camera}_{channel}_{day}_{seq}.{ext}
type Event struct {
	Key         string
	Hash        string
	CameraName  string
	ChannelName string
	DayObs      string
	SeqNum      int
	Filename    string
	Ext         string
	URL         string // transient, populated on read
}

// Equal implements the spec's identity rule: events compare equal iff
// key and hash are equal. URL mutation never affects identity.
func (e Event) Equal(o Event) bool {
	return e.Key == o.Key && e.Hash == o.Hash
}

// NightReport is derived from a key of the form
// {camera}/{day}/night_report/{group}/{filename}.{ext}
type NightReport struct {
	Key    string
	Hash   string
	Camera string
	DayObs string
	Group  string
	Name   string
	Ext    string
}

// IsPlot reports whether this night report is an image plot rather
// than the textual JSON summary.
func (n NightReport) IsPlot() bool {
	return n.Ext != "json"
}

// IsMetadataKey reports whether key is the one-per-day metadata object
// directly under the day prefix, i.e. "{cam}/{day}/metadata.json".
func IsMetadataKey(key string) bool {
	return strings.HasSuffix(key, "/metadata.json") && strings.Count(key, "/") == 2
}

// IsNightReportKey reports whether key's third path segment is
// "night_report".
func IsNightReportKey(key string) bool {
	parts := strings.SplitN(key, "/", 4)
	return len(parts) >= 3 && parts[2] == "night_report"
}

// ParseEvent parses a channel-event key, attaching hash as the
// object's opaque version identifier. Returns a ParseError-kind error
// for any key that doesn't match the expected shape; callers must skip
// (never abort the batch) on error, per spec §4.2.
func ParseEvent(key, hash string) (Event, error) {
	m := eventKeyRE.FindStringSubmatch(key)
	if m == nil {
		return Event{}, rubinerrors.Wrap(rubinerrors.ErrParse, fmt.Sprintf("malformed event key %q", key))
	}

	camera, day, channel, seqStr, filename, ext := m[1], m[2], m[3], m[4], m[5], m[6]

	if _, err := time.Parse(dateLayout, day); err != nil {
		return Event{}, rubinerrors.Wrap(rubinerrors.ErrParse, fmt.Sprintf("malformed day_obs in key %q", key))
	}

	seq, err := parseSeq(seqStr)
	if err != nil {
		return Event{}, rubinerrors.Wrap(rubinerrors.ErrParse, fmt.Sprintf("malformed seq in key %q", key))
	}

	return Event{
		Key:         key,
		Hash:        hash,
		CameraName:  camera,
		ChannelName: channel,
		DayObs:      day,
		SeqNum:      seq,
		Filename:    filename,
		Ext:         ext,
	}, nil
}

// ParseEventFilename rebuilds the full Event (and its key) from just
// the filename the HTTP media endpoints receive as a path parameter,
// given the camera and channel already resolved from the surrounding
// route. Used by the event_image/event_video handlers, which never see
// the full object-store key directly.
func ParseEventFilename(camera, channel, filename, hash string) (Event, error) {
	m := eventFilenameRE.FindStringSubmatch(filename)
	if m == nil {
		return Event{}, rubinerrors.Wrap(rubinerrors.ErrParse, fmt.Sprintf("malformed event filename %q", filename))
	}

	fileCam, fileChan, day, seqStr, ext := m[1], m[2], m[3], m[4], m[5]
	if fileCam != camera || fileChan != channel {
		return Event{}, rubinerrors.Wrap(rubinerrors.ErrParse, fmt.Sprintf("filename %q does not match camera/channel %s/%s", filename, camera, channel))
	}

	seq, err := parseSeq(seqStr)
	if err != nil {
		return Event{}, rubinerrors.Wrap(rubinerrors.ErrParse, fmt.Sprintf("malformed seq in filename %q", filename))
	}

	ev := Event{
		Hash:        hash,
		CameraName:  camera,
		ChannelName: channel,
		DayObs:      day,
		SeqNum:      seq,
		Filename:    strings.TrimSuffix(filename, "."+ext),
		Ext:         ext,
	}
	ev.Key = BuildEventKey(ev)
	return ev, nil
}

// ParseNightReport parses a night-report key (plot or text summary).
func ParseNightReport(key, hash string) (NightReport, error) {
	m := nightReportKeyRE.FindStringSubmatch(key)
	if m == nil {
		return NightReport{}, rubinerrors.Wrap(rubinerrors.ErrParse, fmt.Sprintf("malformed night-report key %q", key))
	}

	camera, day, group, filename, ext := m[1], m[2], m[3], m[4], m[5]

	if _, err := time.Parse(dateLayout, day); err != nil {
		return NightReport{}, rubinerrors.Wrap(rubinerrors.ErrParse, fmt.Sprintf("malformed day_obs in key %q", key))
	}

	return NightReport{
		Key:    key,
		Hash:   hash,
		Camera: camera,
		DayObs: day,
		Group:  group,
		Name:   filename,
		Ext:    ext,
	}, nil
}

// BuildEventKey is the inverse of ParseEvent: given a parsed Event it
// reconstructs the original key. build_key(parse(k)) == k is a
// universal invariant (spec §8).
func BuildEventKey(e Event) string {
	seq := formatSeq(e.SeqNum)
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s", e.CameraName, e.DayObs, e.ChannelName, seq, e.Filename, e.Ext)
}

// BuildNightReportKey is the inverse of ParseNightReport.
func BuildNightReportKey(n NightReport) string {
	return fmt.Sprintf("%s/%s/night_report/%s/%s.%s", n.Camera, n.DayObs, n.Group, n.Name, n.Ext)
}

// BuildDayPrefix builds the day prefix "{cam}/{day}" used to list a
// camera's objects for a given observation date.
func BuildDayPrefix(camera, dayObs string) string {
	return camera + "/" + dayObs
}

// BuildMetadataKey builds the per-day metadata object key.
func BuildMetadataKey(camera, dayObs string) string {
	return camera + "/" + dayObs + "/metadata.json"
}

func parseSeq(s string) (int, error) {
	if s == "final" {
		return SeqFinal, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid seq %q", s)
	}
	return n, nil
}

func formatSeq(seq int) string {
	if seq == SeqFinal {
		return "final"
	}
	return fmt.Sprintf("%06d", seq)
}

// CurrentDayObs returns the observatory's canonical date: UTC minus 12
// hours, so the night does not straddle a date boundary.
func CurrentDayObs() string {
	return CurrentDayObsAt(time.Now())
}

// CurrentDayObsAt is CurrentDayObs parameterised by "now", for testing.
func CurrentDayObsAt(now time.Time) string {
	shifted := now.UTC().Add(-12 * time.Hour)
	return shifted.Format(dateLayout)
}
