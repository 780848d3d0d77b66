// Package fixtures holds the immutable, in-memory registry of
// Locations, Cameras, and Channels loaded at startup.
package fixtures

// Channel is a category of artifacts produced by a Camera (monitor,
// movie, mosaic, ...). Immutable once loaded.
type Channel struct {
	Name   string `yaml:"name" json:"name"`
	Title  string `yaml:"title" json:"title"`
	Label  string `yaml:"label" json:"label"`
	Colour string `yaml:"colour" json:"colour"`
}

// Camera is an image producer at a Location. Offline cameras are
// skipped by the pollers and displayed as "not online" by consumers.
type Camera struct {
	Name              string    `yaml:"name" json:"name"`
	Online            bool      `yaml:"online" json:"online"`
	Channels          []Channel `yaml:"channels" json:"channels"`
	PerDayChannels    []Channel `yaml:"per_day_channels" json:"per_day_channels"`
	NightReportPrefix string    `yaml:"night_report_prefix,omitempty" json:"night_report_prefix,omitempty"`
	ImageViewerLink   string    `yaml:"image_viewer_link,omitempty" json:"image_viewer_link,omitempty"`
}

// HasChannel reports whether name is one of the camera's sequence-keyed
// or per-day channels.
func (c *Camera) HasChannel(name string) bool {
	return c.Channel(name) != nil
}

// Channel looks up a channel (sequence-keyed or per-day) by name.
func (c *Camera) Channel(name string) *Channel {
	for i := range c.Channels {
		if c.Channels[i].Name == name {
			return &c.Channels[i]
		}
	}
	for i := range c.PerDayChannels {
		if c.PerDayChannels[i].Name == name {
			return &c.PerDayChannels[i]
		}
	}
	return nil
}

// IsPerDayChannel reports whether name is a once-per-day channel.
func (c *Camera) IsPerDayChannel(name string) bool {
	for i := range c.PerDayChannels {
		if c.PerDayChannels[i].Name == name {
			return true
		}
	}
	return false
}

// Location is a physical or logical site owning a bucket and cameras.
type Location struct {
	Name        string   `yaml:"name" json:"name"`
	ProfileName string   `yaml:"profile_name" json:"profile_name"`
	BucketName  string   `yaml:"bucket_name" json:"bucket_name"`
	Cameras     []Camera `yaml:"cameras" json:"cameras"`
}

// Camera looks up a camera by name within this location.
func (l *Location) Camera(name string) *Camera {
	for i := range l.Cameras {
		if l.Cameras[i].Name == name {
			return &l.Cameras[i]
		}
	}
	return nil
}

// Registry is the immutable, in-memory set of Locations loaded at
// startup. Never mutated after Load; a fixtures file change produces a
// new Registry that callers swap in atomically (see watcher.go).
type Registry struct {
	Locations []Location `yaml:"locations" json:"locations"`
	byName    map[string]*Location
}

// Location looks up a location by name.
func (r *Registry) Location(name string) *Location {
	if r == nil {
		return nil
	}
	return r.byName[name]
}

// NewRegistry builds an indexed Registry from locations directly,
// bypassing file loading. Used by tests across the poller, historical,
// and hub packages to construct fixtures in-process.
func NewRegistry(locations []Location) *Registry {
	r := &Registry{Locations: locations}
	r.index()
	return r
}

// index builds the lookup maps. Called once after loading.
func (r *Registry) index() {
	r.byName = make(map[string]*Location, len(r.Locations))
	for i := range r.Locations {
		r.byName[r.Locations[i].Name] = &r.Locations[i]
	}
}

// Resolve validates that (location, camera[, channel]) exists and the
// camera is online, matching the subscription-validation rule of the
// WebSocket hub.
func (r *Registry) Resolve(locationName, cameraName, channelName string) (*Location, *Camera, *Channel, bool) {
	loc := r.Location(locationName)
	if loc == nil {
		return nil, nil, nil, false
	}
	cam := loc.Camera(cameraName)
	if cam == nil || !cam.Online {
		return loc, nil, nil, false
	}
	if channelName == "" {
		return loc, cam, nil, true
	}
	chan_ := cam.Channel(channelName)
	if chan_ == nil {
		return loc, cam, nil, false
	}
	return loc, cam, chan_, true
}
