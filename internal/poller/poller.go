// Package poller implements the current-day bucket poller: the
// concurrent engine that lists today's objects per (location, camera),
// classifies and reconciles them against cached state, and broadcasts
// changes to the hub. Grounded on the teacher's NVRPoller
// (internal/nvr/event_poller.go): a ticker-driven loop, a buffered
// channel used as a bounded worker semaphore, and per-unit goroutines
// that are skipped (never fatal) on error.
package poller

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lsst-live/rubintv/internal/fixtures"
	"github.com/lsst-live/rubintv/internal/hub"
	"github.com/lsst-live/rubintv/internal/metrics"
	"github.com/lsst-live/rubintv/internal/objectstore"
	"github.com/lsst-live/rubintv/internal/rubinkey"
)

// Config controls loop cadence and concurrency.
type Config struct {
	Interval       time.Duration
	MaxInflight    int
	StorageTimeout time.Duration
}

// ChannelEvents maps a channel name to its events, ordered descending
// by seq_num. The current-day poller always populates a single-element
// list per channel (the highest seq_num observed); the shape matches
// historical.EventsFor so callers treat both uniformly.
type ChannelEvents map[string][]rubinkey.Event

// NightReportBundle is the broadcast/query shape for a day's
// night-report objects: image plots grouped by report group, and the
// raw JSON text payload keyed by report group (one payload per group;
// when a group has several .json objects, the last one read is kept).
type NightReportBundle struct {
	Plots map[string][]rubinkey.NightReport `json:"plots"`
	Text  map[string]json.RawMessage        `json:"text"`
}

// CameraSnapshot is the externally-readable cached state for one
// (location, camera): what the query facade and hub's on-subscribe
// replay hand back.
type CameraSnapshot struct {
	DayObs       string            `json:"date"`
	ChannelEvent ChannelEvents     `json:"channel_events"`
	Metadata     json.RawMessage   `json:"metadata"`
	NightReport  NightReportBundle `json:"night_report"`
}

// cameraState is the poller's internal cached reconciliation state for
// one (location, camera).
type cameraState struct {
	mu sync.RWMutex

	dayObs string

	metadataKey  string
	metadataHash string
	metadataJSON json.RawMessage

	channelEvents    ChannelEvents
	nightReportHash  map[string]string // key -> hash
	nightReportPlots map[string][]rubinkey.NightReport
	nightReportText  map[string]json.RawMessage
}

func newCameraState() *cameraState {
	return &cameraState{
		channelEvents:    make(ChannelEvents),
		nightReportHash:  make(map[string]string),
		nightReportPlots: make(map[string][]rubinkey.NightReport),
		nightReportText:  make(map[string]json.RawMessage),
	}
}

func (s *cameraState) snapshot() CameraSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := make(ChannelEvents, len(s.channelEvents))
	for k, v := range s.channelEvents {
		cp := make([]rubinkey.Event, len(v))
		copy(cp, v)
		events[k] = cp
	}

	plots := make(map[string][]rubinkey.NightReport, len(s.nightReportPlots))
	for k, v := range s.nightReportPlots {
		cp := make([]rubinkey.NightReport, len(v))
		copy(cp, v)
		plots[k] = cp
	}
	text := make(map[string]json.RawMessage, len(s.nightReportText))
	for k, v := range s.nightReportText {
		text[k] = v
	}

	return CameraSnapshot{
		DayObs:       s.dayObs,
		ChannelEvent: events,
		Metadata:     s.metadataJSON,
		NightReport:  NightReportBundle{Plots: plots, Text: text},
	}
}

// Poller is the current-day bucket-polling engine.
type Poller struct {
	registry *fixtures.Registry
	stores   *objectstore.Registry
	hub      *hub.Hub
	cfg      Config
	log      zerolog.Logger

	sem chan struct{}

	mu    sync.RWMutex
	state map[string]*cameraState // "location/camera" -> state
}

// New constructs a Poller. reg supplies the locations/cameras to poll,
// stores the per-location object clients, h the broadcast sink.
func New(reg *fixtures.Registry, stores *objectstore.Registry, h *hub.Hub, cfg Config, log zerolog.Logger) *Poller {
	if cfg.MaxInflight <= 0 {
		cfg.MaxInflight = 6
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.StorageTimeout <= 0 {
		cfg.StorageTimeout = 30 * time.Second
	}
	return &Poller{
		registry: reg,
		stores:   stores,
		hub:      h,
		cfg:      cfg,
		log:      log,
		sem:      make(chan struct{}, cfg.MaxInflight),
		state:    make(map[string]*cameraState),
	}
}

// Run drives the poll loop until ctx is cancelled. Each iteration is
// wrapped in a panic recovery so a single bad iteration never kills
// polling for the rest of the process.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.safePollAll(ctx)
		}
	}
}

func (p *Poller) safePollAll(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("poller: recovered from panic in poll iteration")
		}
	}()

	start := time.Now()
	p.pollAll(ctx)
	metrics.PollCyclesTotal.Inc()
	metrics.PollCycleDurationSeconds.Observe(time.Since(start).Seconds())
}

func (p *Poller) pollAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, loc := range p.registry.Locations {
		store := p.stores.Client(loc.Name)
		if store == nil {
			p.log.Error().Str("location", loc.Name).Msg("poller: no object-store client bound, skipping location")
			continue
		}
		for _, cam := range loc.Cameras {
			if !cam.Online {
				continue
			}

			select {
			case p.sem <- struct{}{}:
			case <-ctx.Done():
				wg.Wait()
				return
			}
			wg.Add(1)
			go func(loc fixtures.Location, cam fixtures.Camera) {
				defer wg.Done()
				defer func() { <-p.sem }()
				defer func() {
					if r := recover(); r != nil {
						p.log.Error().Interface("panic", r).Str("location", loc.Name).Str("camera", cam.Name).
							Msg("poller: recovered from panic polling camera")
					}
				}()
				p.pollCamera(ctx, loc, cam, store)
			}(loc, cam)
		}
	}
	wg.Wait()
}

func (p *Poller) stateFor(location, camera string) *cameraState {
	key := location + "/" + camera
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.state[key]
	if !ok {
		s = newCameraState()
		p.state[key] = s
	}
	return s
}

// Snapshot returns the cached state for (location, camera), or a zero
// CameraSnapshot if nothing has been observed yet today.
func (p *Poller) Snapshot(location, camera string) (CameraSnapshot, bool) {
	p.mu.RLock()
	s, ok := p.state[location+"/"+camera]
	p.mu.RUnlock()
	if !ok {
		return CameraSnapshot{}, false
	}
	return s.snapshot(), true
}

// CurrentChannelEvent returns the cached current event for a channel,
// if any.
func (p *Poller) CurrentChannelEvent(location, camera, channel string) (rubinkey.Event, bool) {
	p.mu.RLock()
	s, ok := p.state[location+"/"+camera]
	p.mu.RUnlock()
	if !ok {
		return rubinkey.Event{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	events, ok := s.channelEvents[channel]
	if !ok || len(events) == 0 {
		return rubinkey.Event{}, false
	}
	return events[0], true
}

func (p *Poller) pollCamera(ctx context.Context, loc fixtures.Location, cam fixtures.Camera, store objectstore.Client) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.cfg.StorageTimeout)
	defer cancel()

	today := rubinkey.CurrentDayObs()
	prefix := rubinkey.BuildDayPrefix(cam.Name, today)

	objects, err := store.List(fetchCtx, prefix)
	if err != nil {
		p.log.Error().Err(err).Str("location", loc.Name).Str("camera", cam.Name).Msg("poller: list failed")
		metrics.PollCameraErrorsTotal.WithLabelValues(loc.Name, cam.Name, "list_failed").Inc()
		return
	}

	state := p.stateFor(loc.Name, cam.Name)

	state.mu.Lock()
	if state.dayObs != today {
		// Day rolled over since the last observation: drop yesterday's
		// cached state so stale events don't linger under today's key.
		state.dayObs = today
		state.metadataKey = ""
		state.metadataHash = ""
		state.metadataJSON = nil
		state.channelEvents = make(ChannelEvents)
		state.nightReportHash = make(map[string]string)
		state.nightReportPlots = make(map[string][]rubinkey.NightReport)
		state.nightReportText = make(map[string]json.RawMessage)
	}
	state.mu.Unlock()

	metadataObjs, nightReportObjs, channelObjs := classify(objects)

	p.reconcileMetadata(fetchCtx, loc, cam, store, state, metadataObjs)
	channelChanged := p.reconcileChannelEvents(loc, cam, state, channelObjs)
	if channelChanged {
		p.broadcastCameraAggregate(loc, cam, state)
	}
	p.reconcileNightReports(fetchCtx, loc, cam, store, state, nightReportObjs)
}

func classify(objects []objectstore.Object) (metadata, nightReports, channels []objectstore.Object) {
	for _, o := range objects {
		switch {
		case rubinkey.IsMetadataKey(o.Key):
			metadata = append(metadata, o)
		case rubinkey.IsNightReportKey(o.Key):
			nightReports = append(nightReports, o)
		default:
			channels = append(channels, o)
		}
	}
	return
}

func (p *Poller) reconcileMetadata(ctx context.Context, loc fixtures.Location, cam fixtures.Camera, store objectstore.Client, state *cameraState, metadataObjs []objectstore.Object) {
	if len(metadataObjs) > 1 {
		p.log.Error().Str("location", loc.Name).Str("camera", cam.Name).Int("count", len(metadataObjs)).
			Msg("poller: more than one metadata object found, skipping metadata broadcast")
		return
	}
	if len(metadataObjs) == 0 {
		return
	}

	obj := metadataObjs[0]

	state.mu.RLock()
	unchanged := state.metadataKey == obj.Key && state.metadataHash == obj.Hash
	state.mu.RUnlock()
	if unchanged {
		return
	}

	var raw json.RawMessage
	if err := store.GetJSON(ctx, obj.Key, &raw); err != nil {
		p.log.Error().Err(err).Str("key", obj.Key).Msg("poller: failed to fetch metadata object")
		metrics.PollCameraErrorsTotal.WithLabelValues(loc.Name, cam.Name, "metadata_fetch_failed").Inc()
		return
	}

	state.mu.Lock()
	state.metadataKey = obj.Key
	state.metadataHash = obj.Hash
	state.metadataJSON = raw
	state.mu.Unlock()

	p.hub.Broadcast(hub.Topic{Kind: hub.KindCamera, Target: hub.CameraTarget(loc.Name, cam.Name)}, raw)
}

// reconcileChannelEvents parses each channel object, picks the
// highest-seq event per channel, and diffs against the cached current
// event. Returns whether any channel changed.
func (p *Poller) reconcileChannelEvents(loc fixtures.Location, cam fixtures.Camera, state *cameraState, channelObjs []objectstore.Object) bool {
	byChannel := make(map[string]rubinkey.Event)
	for _, o := range channelObjs {
		ev, err := rubinkey.ParseEvent(o.Key, o.Hash)
		if err != nil {
			p.log.Info().Err(err).Str("key", o.Key).Msg("poller: skipping unparseable channel event key")
			continue
		}
		if !cam.HasChannel(ev.ChannelName) {
			continue
		}
		best, ok := byChannel[ev.ChannelName]
		if !ok || ev.SeqNum > best.SeqNum {
			byChannel[ev.ChannelName] = ev
		}
	}

	changed := false
	for channel, ev := range byChannel {
		state.mu.RLock()
		current, exists := state.channelEvents[channel]
		state.mu.RUnlock()

		if exists && len(current) > 0 && current[0].Equal(ev) {
			continue
		}

		state.mu.Lock()
		state.channelEvents[channel] = []rubinkey.Event{ev}
		state.mu.Unlock()
		changed = true

		p.hub.Broadcast(hub.Topic{Kind: hub.KindChannel, Target: hub.ChannelTarget(loc.Name, cam.Name, channel)}, ev)
	}
	return changed
}

func (p *Poller) broadcastCameraAggregate(loc fixtures.Location, cam fixtures.Camera, state *cameraState) {
	state.mu.RLock()
	events := make(ChannelEvents, len(state.channelEvents))
	for k, v := range state.channelEvents {
		cp := make([]rubinkey.Event, len(v))
		copy(cp, v)
		events[k] = cp
	}
	state.mu.RUnlock()

	p.hub.Broadcast(hub.Topic{Kind: hub.KindCamera, Target: hub.CameraTarget(loc.Name, cam.Name)}, events)
}

func (p *Poller) reconcileNightReports(ctx context.Context, loc fixtures.Location, cam fixtures.Camera, store objectstore.Client, state *cameraState, objs []objectstore.Object) {
	if len(objs) == 0 {
		return
	}

	state.mu.RLock()
	changed := false
	for _, o := range objs {
		if state.nightReportHash[o.Key] != o.Hash {
			changed = true
			break
		}
	}
	state.mu.RUnlock()
	if !changed {
		return
	}

	plots := make(map[string][]rubinkey.NightReport)
	text := make(map[string]json.RawMessage)
	hashes := make(map[string]string, len(objs))

	for _, o := range objs {
		nr, err := rubinkey.ParseNightReport(o.Key, o.Hash)
		if err != nil {
			p.log.Info().Err(err).Str("key", o.Key).Msg("poller: skipping unparseable night-report key")
			continue
		}
		hashes[o.Key] = o.Hash

		if nr.IsPlot() {
			plots[nr.Group] = append(plots[nr.Group], nr)
			continue
		}

		var raw json.RawMessage
		if err := store.GetJSON(ctx, o.Key, &raw); err != nil {
			p.log.Error().Err(err).Str("key", o.Key).Msg("poller: failed to fetch night-report text payload")
			metrics.PollCameraErrorsTotal.WithLabelValues(loc.Name, cam.Name, "night_report_fetch_failed").Inc()
			continue
		}
		text[nr.Group] = raw
	}

	for group := range plots {
		sort.Slice(plots[group], func(i, j int) bool { return plots[group][i].Name < plots[group][j].Name })
	}

	state.mu.Lock()
	state.nightReportHash = hashes
	state.nightReportPlots = plots
	state.nightReportText = text
	state.mu.Unlock()

	p.hub.Broadcast(hub.Topic{Kind: hub.KindNightReport, Target: hub.CameraTarget(loc.Name, cam.Name)},
		NightReportBundle{Plots: plots, Text: text})
}

