// Package query is the read-only facade layered over the current-day
// poller and historical cache: one verb per use case, composing two
// lower-level components exactly the way the teacher's thin *.Service
// wrappers (internal/cameras/service.go, internal/live/service.go)
// compose a repository and a couple of collaborators.
package query

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lsst-live/rubintv/internal/fixtures"
	"github.com/lsst-live/rubintv/internal/historical"
	"github.com/lsst-live/rubintv/internal/objectstore"
	"github.com/lsst-live/rubintv/internal/poller"
	"github.com/lsst-live/rubintv/internal/rubinerrors"
	"github.com/lsst-live/rubintv/internal/rubinkey"
)

// CurrentResult is the shape returned for "today" queries, matching
// the HTTP boundary's {date, channel_events, metadata, per_day} contract.
type CurrentResult struct {
	Date          string                    `json:"date"`
	ChannelEvents poller.ChannelEvents      `json:"channel_events"`
	Metadata      json.RawMessage           `json:"metadata"`
	PerDay        poller.ChannelEvents      `json:"per_day"`
	NightReport   *poller.NightReportBundle `json:"night_report,omitempty"`
}

// Service is the read-only query facade.
type Service struct {
	registry   *fixtures.Registry
	poller     *poller.Poller
	historical *historical.Cache
	stores     *objectstore.Registry
	presignTTL time.Duration
}

// New constructs a Service bound to the running poller and historical
// cache.
func New(reg *fixtures.Registry, p *poller.Poller, h *historical.Cache, stores *objectstore.Registry, presignTTL time.Duration) *Service {
	return &Service{registry: reg, poller: p, historical: h, stores: stores, presignTTL: presignTTL}
}

// Latest returns {date, channel_events, metadata, per_day, night_report}
// for (loc, cam). If the current-day poller has nothing for that
// camera and no metadata exists for today, falls through to
// historical.MostRecentDay.
func (s *Service) Latest(ctx context.Context, locationName, cameraName string) (CurrentResult, error) {
	_, cam, _, ok := s.registry.Resolve(locationName, cameraName, "")
	if !ok {
		return CurrentResult{}, rubinerrors.Wrap(rubinerrors.ErrNotFound, "unknown or offline location/camera")
	}

	today := rubinkey.CurrentDayObs()
	snap, ok := s.poller.Snapshot(locationName, cameraName)
	if ok && (len(snap.ChannelEvent) > 0 || len(snap.Metadata) > 0) {
		return CurrentResult{
			Date:          today,
			ChannelEvents: snap.ChannelEvent,
			Metadata:      snap.Metadata,
			PerDay:        filterPerDay(snap.ChannelEvent, cam.PerDayChannels),
			NightReport:   &snap.NightReport,
		}, nil
	}

	if s.historical.IsBusy() {
		return CurrentResult{}, rubinerrors.ErrBusy
	}

	day, ok := s.historical.MostRecentDay(locationName, cameraName)
	if !ok {
		return CurrentResult{Date: today}, nil
	}
	return s.HistoricalForDate(ctx, locationName, cameraName, day)
}

// Current returns {date, channel_events, metadata, per_day} for
// "today" only, never falling through to history: an offline or
// not-yet-polled camera yields an empty channel_events map rather than
// an error, matching the HTTP boundary's /current endpoint.
func (s *Service) Current(ctx context.Context, locationName, cameraName string) (CurrentResult, error) {
	loc := s.registry.Location(locationName)
	if loc == nil {
		return CurrentResult{}, rubinerrors.Wrap(rubinerrors.ErrNotFound, "unknown location")
	}
	cam := loc.Camera(cameraName)
	if cam == nil {
		return CurrentResult{}, rubinerrors.Wrap(rubinerrors.ErrNotFound, "unknown camera")
	}

	result := CurrentResult{Date: rubinkey.CurrentDayObs(), ChannelEvents: make(poller.ChannelEvents)}
	if !cam.Online {
		return result, nil
	}

	snap, ok := s.poller.Snapshot(locationName, cameraName)
	if !ok {
		return result, nil
	}
	result.ChannelEvents = snap.ChannelEvent
	result.Metadata = snap.Metadata
	result.PerDay = filterPerDay(snap.ChannelEvent, cam.PerDayChannels)
	result.NightReport = &snap.NightReport
	return result, nil
}

// HistoricalForDate merges historical events with that date's metadata.
func (s *Service) HistoricalForDate(ctx context.Context, locationName, cameraName, date string) (CurrentResult, error) {
	_, cam, _, ok := s.registry.Resolve(locationName, cameraName, "")
	if !ok {
		return CurrentResult{}, rubinerrors.Wrap(rubinerrors.ErrNotFound, "unknown or offline location/camera")
	}

	if s.historical.IsBusy() {
		return CurrentResult{}, rubinerrors.ErrBusy
	}

	events := s.historical.EventsFor(locationName, cameraName, date, cam.Channels)
	perDay := s.historical.PerDayEventsFor(locationName, cameraName, date, cam.PerDayChannels)

	var metadata json.RawMessage
	if store := s.stores.Client(locationName); store != nil {
		key := rubinkey.BuildMetadataKey(cameraName, date)
		_ = store.GetJSON(ctx, key, &metadata) // absent metadata is not an error for historical dates
	}

	plots := groupPlots(s.historical.NightReports(locationName, cameraName, date))

	return CurrentResult{
		Date:          date,
		ChannelEvents: events,
		Metadata:      metadata,
		PerDay:        perDay,
		NightReport:   &poller.NightReportBundle{Plots: plots},
	}, nil
}

// CameraCalendar returns the nested year -> month -> [(day, max_seq)]
// navigation structure for (location, camera), used by the calendar UI
// to link into specific historical dates.
func (s *Service) CameraCalendar(ctx context.Context, locationName, cameraName string) (map[string]map[int][]historical.DaySeq, error) {
	_, _, _, ok := s.registry.Resolve(locationName, cameraName, "")
	if !ok {
		return nil, rubinerrors.Wrap(rubinerrors.ErrNotFound, "unknown or offline location/camera")
	}

	if s.historical.IsBusy() {
		return nil, rubinerrors.ErrBusy
	}

	return s.historical.CameraCalendar(locationName, cameraName), nil
}

// EventForKey resolves an Event by re-parsing key and attaching a
// fresh presigned URL.
func (s *Service) EventForKey(ctx context.Context, locationName, key string) (rubinkey.Event, error) {
	store := s.stores.Client(locationName)
	if store == nil {
		return rubinkey.Event{}, rubinerrors.Wrap(rubinerrors.ErrNotFound, "unknown location")
	}

	ev, err := rubinkey.ParseEvent(key, "")
	if err != nil {
		return rubinkey.Event{}, err
	}

	url, err := store.PresignGet(ctx, key, s.presignTTL)
	if err != nil {
		return rubinkey.Event{}, err
	}
	ev.URL = url
	return ev, nil
}

// CurrentChannelEvent reads the poller's cached current event for a
// channel and attaches a presigned URL before returning.
func (s *Service) CurrentChannelEvent(ctx context.Context, locationName, cameraName, channelName string) (rubinkey.Event, error) {
	_, _, _, ok := s.registry.Resolve(locationName, cameraName, channelName)
	if !ok {
		return rubinkey.Event{}, rubinerrors.Wrap(rubinerrors.ErrNotFound, "unknown or offline location/camera/channel")
	}

	ev, ok := s.poller.CurrentChannelEvent(locationName, cameraName, channelName)
	if !ok {
		return rubinkey.Event{}, rubinerrors.Wrap(rubinerrors.ErrNotFound, "no current event for channel")
	}

	store := s.stores.Client(locationName)
	if store == nil {
		return ev, nil
	}
	url, err := store.PresignGet(ctx, ev.Key, s.presignTTL)
	if err != nil {
		return ev, err
	}
	ev.URL = url
	return ev, nil
}

func filterPerDay(events poller.ChannelEvents, perDayChannels []fixtures.Channel) poller.ChannelEvents {
	out := make(poller.ChannelEvents, len(perDayChannels))
	for _, ch := range perDayChannels {
		if v, ok := events[ch.Name]; ok {
			out[ch.Name] = v
		}
	}
	return out
}

func groupPlots(reports []rubinkey.NightReport) map[string][]rubinkey.NightReport {
	out := make(map[string][]rubinkey.NightReport)
	for _, nr := range reports {
		if nr.IsPlot() {
			out[nr.Group] = append(out[nr.Group], nr)
		}
	}
	return out
}
