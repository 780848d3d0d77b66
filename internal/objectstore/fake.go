package objectstore

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/lsst-live/rubintv/internal/rubinerrors"
)

// Fake is an in-memory Client used by objectstore, poller, historical,
// query, and httpapi tests, avoiding a live (or fake) S3 endpoint. Not used by production
// code.
type Fake struct {
	mu       sync.Mutex
	objects  map[string][]byte
	hashes   map[string]string
	presigns int
}

// NewFake returns an empty Fake store.
func NewFake() *Fake {
	return &Fake{objects: map[string][]byte{}, hashes: map[string]string{}}
}

// PutJSON registers key with v marshalled to JSON and hash as its
// opaque version. Calling PutJSON again with a different hash
// simulates an object being overwritten.
func (f *Fake) PutJSON(key, hash string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.hashes[key] = hash
}

// PutRaw registers key with raw bytes and hash.
func (f *Fake) PutRaw(key, hash string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	f.hashes[key] = hash
}

// Delete removes key, simulating an object disappearing between polls.
func (f *Fake) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	delete(f.hashes, key)
}

func (f *Fake) List(ctx context.Context, prefix string) ([]Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Object
	for key, hash := range f.hashes {
		if strings.HasPrefix(key, prefix) {
			out = append(out, Object{Key: key, Hash: hash})
		}
	}
	return out, nil
}

func (f *Fake) GetJSON(ctx context.Context, key string, v any) error {
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return rubinerrors.Wrap(rubinerrors.ErrNotFound, "object "+key+" not found")
	}
	return json.Unmarshal(data, v)
}

func (f *Fake) GetRaw(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return nil, 0, rubinerrors.Wrap(rubinerrors.ErrNotFound, "no such file for: "+key)
	}
	return io.NopCloser(strings.NewReader(string(data))), int64(len(data)), nil
}

func (f *Fake) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	f.mu.Lock()
	_, ok := f.hashes[key]
	f.presigns++
	f.mu.Unlock()
	if !ok {
		return "", rubinerrors.Wrap(rubinerrors.ErrNotFound, "no such file for: "+key)
	}
	return "https://fake.example.com/" + key, nil
}

// PresignCalls reports how many times PresignGet has been invoked,
// used to assert the presign cache avoids redundant calls.
func (f *Fake) PresignCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.presigns
}
