package objectstore

import (
	"fmt"
	"time"

	"github.com/lsst-live/rubintv/internal/fixtures"
)

// Registry holds one Client per Location, keyed by location name.
type Registry struct {
	clients map[string]Client
}

// BuildRegistry constructs one presign-cached S3Store per location in
// reg, using each location's ProfileName and BucketName. endpointURL
// and presignTTL apply uniformly, matching every location sharing one
// deployment's object-storage endpoint.
func BuildRegistry(reg *fixtures.Registry, endpointURL string, cacheSize int, presignTTL time.Duration) (*Registry, error) {
	clients := make(map[string]Client, len(reg.Locations))
	for _, loc := range reg.Locations {
		store, err := NewS3Store(Config{
			EndpointURL: endpointURL,
			Profile:     loc.ProfileName,
			Bucket:      loc.BucketName,
		})
		if err != nil {
			return nil, fmt.Errorf("objectstore: build client for location %q: %w", loc.Name, err)
		}
		cached, err := NewPresignCache(store, cacheSize, presignTTL)
		if err != nil {
			return nil, fmt.Errorf("objectstore: build presign cache for location %q: %w", loc.Name, err)
		}
		clients[loc.Name] = cached
	}
	return &Registry{clients: clients}, nil
}

// NewTestRegistry builds a Registry directly from a location-name to
// Client map, bypassing BuildRegistry's live S3Store construction. Used
// by poller, historical, and query tests to wire in-memory Fake stores.
func NewTestRegistry(clients map[string]Client) *Registry {
	return &Registry{clients: clients}
}

// Client returns the store bound to locationName, or nil if unknown.
func (r *Registry) Client(locationName string) Client {
	if r == nil {
		return nil
	}
	return r.clients[locationName]
}
