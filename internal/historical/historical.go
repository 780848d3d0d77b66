// Package historical implements the in-memory reflection of all
// historical objects per location: built once at startup, rebuilt on
// observatory day rollover, and queried for calendar navigation. The
// 60-second wake-check-rebuild loop is grounded on the teacher's
// license.Scheduler / health.Scheduler ticker pattern; the is_busy
// flag mirrors the atomic-bool "not ready yet" state used for
// Store.isWaitingOnFirstImageReady in the broader example corpus.
package historical

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/lsst-live/rubintv/internal/fixtures"
	"github.com/lsst-live/rubintv/internal/metrics"
	"github.com/lsst-live/rubintv/internal/objectstore"
	"github.com/lsst-live/rubintv/internal/rubinkey"
)

const rebuildCheckInterval = 60 * time.Second

var yearRE = regexp.MustCompile(`^[^/]+/(\d{4})-\d{2}-\d{2}/`)

// DaySeq is one calendar entry: a day and the highest sequence number
// observed that day (rubinkey.SeqFinal if any event that day used the
// "final" sentinel).
type DaySeq struct {
	Day    string `json:"day"`
	MaxSeq int    `json:"max_seq"`
}

// MarshalJSON encodes MaxSeq as the literal string "final" when it
// holds rubinkey.SeqFinal, matching rubinkey's own seq formatting
// convention on the wire instead of leaking the internal sentinel int.
func (d DaySeq) MarshalJSON() ([]byte, error) {
	type wire struct {
		Day    string      `json:"day"`
		MaxSeq interface{} `json:"max_seq"`
	}
	w := wire{Day: d.Day, MaxSeq: d.MaxSeq}
	if d.MaxSeq == rubinkey.SeqFinal {
		w.MaxSeq = "final"
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (d *DaySeq) UnmarshalJSON(data []byte) error {
	var w struct {
		Day    string          `json:"day"`
		MaxSeq json.RawMessage `json:"max_seq"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d.Day = w.Day

	var s string
	if err := json.Unmarshal(w.MaxSeq, &s); err == nil {
		if s != "final" {
			return fmt.Errorf("historical: invalid max_seq string %q", s)
		}
		d.MaxSeq = rubinkey.SeqFinal
		return nil
	}
	return json.Unmarshal(w.MaxSeq, &d.MaxSeq)
}

// locationSnapshot is the atomically-swapped, read-only state for one
// location.
type locationSnapshot struct {
	events       []rubinkey.Event
	nightReports []rubinkey.NightReport
	// cameraYears[camera] = set of years with any data
	cameraYears map[string]map[string]struct{}
	builtAt     time.Time
}

// Cache is the historical reflection for every location in the
// registry.
type Cache struct {
	registry *fixtures.Registry
	stores   *objectstore.Registry
	log      zerolog.Logger

	busy atomic.Bool

	mu         sync.RWMutex
	snapshots  map[string]*locationSnapshot // location -> snapshot
	lastReload string                       // day_obs as of last full rebuild
}

// New constructs an empty Cache. Call Build once before serving queries.
func New(reg *fixtures.Registry, stores *objectstore.Registry, log zerolog.Logger) *Cache {
	c := &Cache{
		registry:  reg,
		stores:    stores,
		log:       log,
		snapshots: make(map[string]*locationSnapshot),
	}
	c.busy.Store(true)
	metrics.HistoricalBusy.Set(1)
	return c
}

// IsBusy reports whether the initial build has not yet completed.
func (c *Cache) IsBusy() bool {
	return c.busy.Load()
}

// Build performs (or repeats) the full rebuild across every location,
// independently: a failure for one location retains its prior
// snapshot and logs, without blocking the others.
func (c *Cache) Build(ctx context.Context) {
	for _, loc := range c.registry.Locations {
		c.buildLocation(ctx, loc)
	}

	c.mu.Lock()
	c.lastReload = rubinkey.CurrentDayObs()
	c.mu.Unlock()

	c.busy.Store(false)
	metrics.HistoricalBusy.Set(0)
}

func (c *Cache) buildLocation(ctx context.Context, loc fixtures.Location) {
	start := time.Now()
	store := c.stores.Client(loc.Name)
	if store == nil {
		c.log.Error().Str("location", loc.Name).Msg("historical: no object-store client bound, keeping prior snapshot")
		return
	}

	snap := &locationSnapshot{cameraYears: make(map[string]map[string]struct{})}

	for _, cam := range loc.Cameras {
		if !cam.Online {
			continue
		}

		objects, err := store.List(ctx, cam.Name+"/")
		if err != nil {
			c.log.Error().Err(err).Str("location", loc.Name).Str("camera", cam.Name).
				Msg("historical: list failed for camera, keeping prior snapshot for location")
			return
		}

		years := make(map[string]struct{})
		for _, o := range objects {
			if m := yearRE.FindStringSubmatch(o.Key); m != nil {
				years[m[1]] = struct{}{}
			}

			switch {
			case rubinkey.IsMetadataKey(o.Key):
				// Metadata objects aren't part of the flat event/night-report
				// lists; per-day metadata is fetched on demand by the query facade.
				continue
			case rubinkey.IsNightReportKey(o.Key):
				if nr, err := rubinkey.ParseNightReport(o.Key, o.Hash); err == nil {
					snap.nightReports = append(snap.nightReports, nr)
				}
			default:
				if ev, err := rubinkey.ParseEvent(o.Key, o.Hash); err == nil {
					snap.events = append(snap.events, ev)
				}
			}
		}
		snap.cameraYears[cam.Name] = years
	}

	snap.builtAt = time.Now()

	c.mu.Lock()
	c.snapshots[loc.Name] = snap
	c.mu.Unlock()

	metrics.HistoricalBuildDurationSeconds.WithLabelValues(loc.Name).Observe(time.Since(start).Seconds())
	metrics.HistoricalEventsTotal.WithLabelValues(loc.Name).Set(float64(len(snap.events)))
}

// Run wakes every 60s and repeats the full rebuild whenever the
// observatory day has rolled over since the last reload. Must run in
// its own goroutine; returns when ctx is cancelled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(rebuildCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			last := c.lastReload
			c.mu.RUnlock()
			if rubinkey.CurrentDayObs() != last {
				c.Build(ctx)
			}
		}
	}
}

func (c *Cache) snapshotFor(location string) (*locationSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.snapshots[location]
	return s, ok
}

// Years returns the sorted-ascending years with any data for (location, camera).
func (c *Cache) Years(location, camera string) []string {
	snap, ok := c.snapshotFor(location)
	if !ok {
		return nil
	}
	yearSet, ok := snap.cameraYears[camera]
	if !ok {
		return nil
	}
	years := make([]string, 0, len(yearSet))
	for y := range yearSet {
		years = append(years, y)
	}
	sort.Strings(years)
	return years
}

func (c *Cache) eventsForCamera(location, camera string) []rubinkey.Event {
	snap, ok := c.snapshotFor(location)
	if !ok {
		return nil
	}
	out := make([]rubinkey.Event, 0, len(snap.events))
	for _, e := range snap.events {
		if e.CameraName == camera {
			out = append(out, e)
		}
	}
	return out
}

// Months returns the descending-sorted month numbers with data for
// (location, camera, year).
func (c *Cache) Months(location, camera, year string) []int {
	seen := make(map[int]struct{})
	for _, e := range c.eventsForCamera(location, camera) {
		if len(e.DayObs) < 7 || e.DayObs[:4] != year {
			continue
		}
		month, err := strconv.Atoi(e.DayObs[5:7])
		if err != nil {
			continue
		}
		seen[month] = struct{}{}
	}
	months := make([]int, 0, len(seen))
	for m := range seen {
		months = append(months, m)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(months)))
	return months
}

// DaysFor returns (day, max_seq) pairs ascending by day for
// (location, camera, year, month).
func (c *Cache) DaysFor(location, camera, year string, month int) []DaySeq {
	byDay := make(map[string]int)
	monthStr := twoDigit(month)
	for _, e := range c.eventsForCamera(location, camera) {
		if len(e.DayObs) != 10 || e.DayObs[:4] != year || e.DayObs[5:7] != monthStr {
			continue
		}
		if cur, seen := byDay[e.DayObs]; !seen || e.SeqNum > cur {
			byDay[e.DayObs] = e.SeqNum
		}
	}
	days := make([]DaySeq, 0, len(byDay))
	for d, seq := range byDay {
		days = append(days, DaySeq{Day: d, MaxSeq: seq})
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Day < days[j].Day })
	return days
}

// EventsFor returns channel_name -> events ordered descending by
// seq_num for (location, camera, date). Channels with no events are
// present as empty lists.
func (c *Cache) EventsFor(location, camera, date string, channels []fixtures.Channel) map[string][]rubinkey.Event {
	byChannel := make(map[string][]rubinkey.Event, len(channels))
	for _, ch := range channels {
		byChannel[ch.Name] = nil
	}
	for _, e := range c.eventsForCamera(location, camera) {
		if e.DayObs != date {
			continue
		}
		if _, known := byChannel[e.ChannelName]; !known {
			continue
		}
		byChannel[e.ChannelName] = append(byChannel[e.ChannelName], e)
	}
	for ch := range byChannel {
		sort.Slice(byChannel[ch], func(i, j int) bool { return byChannel[ch][i].SeqNum > byChannel[ch][j].SeqNum })
	}
	return byChannel
}

// PerDayEventsFor is EventsFor restricted to per-day channels.
func (c *Cache) PerDayEventsFor(location, camera, date string, perDayChannels []fixtures.Channel) map[string][]rubinkey.Event {
	return c.EventsFor(location, camera, date, perDayChannels)
}

// MostRecentDay returns the latest date with any event for (location, camera).
func (c *Cache) MostRecentDay(location, camera string) (string, bool) {
	var best string
	for _, e := range c.eventsForCamera(location, camera) {
		if e.DayObs > best {
			best = e.DayObs
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// MostRecentEvent returns the highest-seq event for a channel across
// all days.
func (c *Cache) MostRecentEvent(location, camera, channel string) (rubinkey.Event, bool) {
	var best rubinkey.Event
	found := false
	for _, e := range c.eventsForCamera(location, camera) {
		if e.ChannelName != channel {
			continue
		}
		if !found || e.SeqNum > best.SeqNum || (e.SeqNum == best.SeqNum && e.DayObs > best.DayObs) {
			best = e
			found = true
		}
	}
	return best, found
}

// CameraCalendar returns the nested year -> month -> [(day, max_seq)]
// structure in one call.
func (c *Cache) CameraCalendar(location, camera string) map[string]map[int][]DaySeq {
	out := make(map[string]map[int][]DaySeq)
	for _, year := range c.Years(location, camera) {
		out[year] = make(map[int][]DaySeq)
		for _, month := range c.Months(location, camera, year) {
			out[year][month] = c.DaysFor(location, camera, year, month)
		}
	}
	return out
}

// NightReports returns night-report records for (location, camera, date).
func (c *Cache) NightReports(location, camera, date string) []rubinkey.NightReport {
	snap, ok := c.snapshotFor(location)
	if !ok {
		return nil
	}
	var out []rubinkey.NightReport
	for _, nr := range snap.nightReports {
		if nr.Camera == camera && nr.DayObs == date {
			out = append(out, nr)
		}
	}
	return out
}

func twoDigit(n int) string {
	s := strconv.Itoa(n)
	if len(s) < 2 {
		return "0" + s
	}
	return s
}
