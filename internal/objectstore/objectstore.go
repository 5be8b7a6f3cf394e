// Package objectstore reads and writes whole objects addressed by URI.
// s3:// URIs go to Amazon S3 (or an S3-compatible endpoint); file:// URIs go
// to the local filesystem.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Sentinel errors for object operations.
var (
	ErrNotFound           = errors.New("object not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrBucketNotFound     = errors.New("bucket not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnavailable        = errors.New("object store unavailable")
	ErrThrottled          = errors.New("request throttled")
	ErrUnsupportedScheme  = errors.New("unsupported URI scheme")
	ErrInvalidURI         = errors.New("invalid object URI")
)

// Error wraps a failed object operation with its address.
type Error struct {
	Op     string
	Scheme string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	if e.Bucket != "" {
		return fmt.Sprintf("%s %s: %s/%s: %v", e.Scheme, e.Op, e.Bucket, e.Key, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Scheme, e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

type Reader interface {
	Get(ctx context.Context, uri string) ([]byte, error)
}

type Writer interface {
	Put(ctx context.Context, uri string, data []byte) error
}

// Store reads and writes objects.
type Store interface {
	Reader
	Writer
}

// Location is a parsed object URI.
type Location struct {
	Scheme string
	Bucket string
	Key    string
}

func (l Location) String() string {
	if l.Scheme == "file" {
		return "file://" + l.Key
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Key
}

// Parse splits uri into scheme, bucket and key. For file:// URIs the key is
// the absolute filesystem path and the bucket is empty.
func Parse(uri string) (Location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, fmt.Errorf("%w: %q: %v", ErrInvalidURI, uri, err)
	}
	switch u.Scheme {
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Location{}, fmt.Errorf("%w: %q needs a bucket and key", ErrInvalidURI, uri)
		}
		return Location{Scheme: "s3", Bucket: u.Host, Key: key}, nil
	case "file":
		if u.Path == "" {
			return Location{}, fmt.Errorf("%w: %q has no path", ErrInvalidURI, uri)
		}
		return Location{Scheme: "file", Key: u.Path}, nil
	case "":
		return Location{}, fmt.Errorf("%w: %q has no scheme", ErrInvalidURI, uri)
	default:
		return Location{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// Mux dispatches by URI scheme.
type Mux struct {
	stores map[string]Store
}

func NewMux() *Mux {
	return &Mux{stores: make(map[string]Store)}
}

// Handle registers store for scheme, replacing any previous registration.
func (m *Mux) Handle(scheme string, store Store) *Mux {
	m.stores[scheme] = store
	return m
}

func (m *Mux) Get(ctx context.Context, uri string) ([]byte, error) {
	store, err := m.route(uri)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, uri)
}

func (m *Mux) Put(ctx context.Context, uri string, data []byte) error {
	store, err := m.route(uri)
	if err != nil {
		return err
	}
	return store.Put(ctx, uri, data)
}

func (m *Mux) route(uri string) (Store, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	store, ok := m.stores[loc.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no store registered for %q", ErrUnsupportedScheme, loc.Scheme)
	}
	return store, nil
}

var _ Store = (*Mux)(nil)
