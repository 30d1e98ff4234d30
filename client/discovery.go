package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"geochat/internal/models"
)

const (
	// DefaultRadiusKm applies when the caller passes a non-positive radius.
	DefaultRadiusKm = 5.0
	// discoveryFetchLimit caps the candidate set requested from the backend.
	discoveryFetchLimit = 100
	// discoveryDisplayCap truncates the filtered, sorted result.
	discoveryDisplayCap = 50
	// discoveryTimeout bounds the primary request and the simplified retry
	// individually.
	discoveryTimeout = 8 * time.Second
)

// ErrSuperseded reports that a newer discovery request completed while this
// one was in flight; its result was discarded.
var ErrSuperseded = errors.New("discovery request superseded by a newer one")

// GroupLister is the slice of the backend discovery needs. ListGroupsMinimal
// is the cheaper projection (fewer columns, no ordering) tried once after a
// retryable failure.
type GroupLister interface {
	ListGroups(ctx context.Context, limit int) ([]*models.ChatGroup, error)
	ListGroupsMinimal(ctx context.Context, limit int) ([]*models.ChatGroup, error)
}

// NearbyCache stores a discovery result for reuse while offline. StateStore
// implements it with a 24-hour expiry.
type NearbyCache interface {
	StoreNearby(origin models.Coordinate, radiusKm float64, groups []*models.ChatGroup)
}

// Finder computes the nearby-group list for a caller coordinate. At most one
// request is in flight at a time: a newer FindNearby cancels the older one
// and the older result is discarded.
type Finder struct {
	backend GroupLister
	cache   NearbyCache // optional
	timeout time.Duration

	mu     sync.Mutex
	seq    uint64
	cancel context.CancelFunc
}

// NewFinder creates a Finder over the given backend. cache may be nil.
func NewFinder(backend GroupLister, cache NearbyCache) *Finder {
	return &Finder{
		backend: backend,
		cache:   cache,
		timeout: discoveryTimeout,
	}
}

// FindNearby returns active groups within radiusKm of origin, annotated with
// their distance, sorted nearest-first and truncated to the display cap.
// Remote failure degrades to a deterministic sample set rather than an empty
// screen; that branch is logged loudly so it is never mistaken for real
// results.
func (f *Finder) FindNearby(ctx context.Context, origin models.Coordinate, radiusKm float64) ([]*models.ChatGroup, error) {
	if !origin.Valid() {
		return nil, fmt.Errorf("origin coordinate is invalid (%f, %f)", origin.Latitude, origin.Longitude)
	}
	if radiusKm <= 0 {
		radiusKm = DefaultRadiusKm
	}

	mySeq := f.begin()
	candidates := f.fetchCandidates(ctx, mySeq, origin, radiusKm)
	result := f.rank(origin, radiusKm, candidates)

	if !f.finish(mySeq) {
		log.Printf("Discovery: Result for request #%d discarded, superseded by a newer request.", mySeq)
		return nil, ErrSuperseded
	}
	if f.cache != nil {
		f.cache.StoreNearby(origin, radiusKm, result)
	}
	return result, nil
}

// begin allocates this request's sequence number and cancels any older
// request still in flight.
func (f *Finder) begin() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	return f.seq
}

// finish reports whether this request is still the latest one.
func (f *Finder) finish(mySeq uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq == mySeq
}

func (f *Finder) fetchCandidates(ctx context.Context, mySeq uint64, origin models.Coordinate, radiusKm float64) []*models.ChatGroup {
	if f.backend == nil {
		log.Println("Discovery: DEGRADED MODE - no backend configured, serving sample groups.")
		return sampleGroups(origin, radiusKm, time.Now())
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.timeout)
	f.storeCancel(mySeq, cancel)
	groups, err := f.backend.ListGroups(reqCtx, discoveryFetchLimit)
	cancel()
	if err == nil {
		return groups
	}

	if !isRetryable(err) {
		log.Printf("Discovery: DEGRADED MODE - non-retryable backend error (%v), serving sample groups.", err)
		return sampleGroups(origin, radiusKm, time.Now())
	}

	log.Printf("Discovery: Retryable backend error (%v), retrying with minimal columns.", err)
	retryCtx, retryCancel := context.WithTimeout(ctx, f.timeout)
	f.storeCancel(mySeq, retryCancel)
	groups, retryErr := f.backend.ListGroupsMinimal(retryCtx, discoveryFetchLimit)
	retryCancel()
	if retryErr != nil {
		log.Printf("Discovery: DEGRADED MODE - simplified retry also failed (%v), serving sample groups.", retryErr)
		return sampleGroups(origin, radiusKm, time.Now())
	}
	return groups
}

// storeCancel records the latest request's cancel func. A superseded
// request entering its retry must not clobber the newer request's cancel,
// so stale sequence numbers are ignored.
func (f *Finder) storeCancel(mySeq uint64, cancel context.CancelFunc) {
	f.mu.Lock()
	if f.seq == mySeq {
		f.cancel = cancel
	}
	f.mu.Unlock()
}

// rank validates, annotates with distance, filters to the radius, sorts
// nearest-first and truncates.
func (f *Finder) rank(origin models.Coordinate, radiusKm float64, candidates []*models.ChatGroup) []*models.ChatGroup {
	result := make([]*models.ChatGroup, 0, len(candidates))
	for _, group := range candidates {
		if err := group.Validate(); err != nil {
			log.Printf("Discovery: Dropping malformed group row: %v", err)
			continue
		}
		distance := HaversineKm(origin, group.Coordinate())
		if distance > radiusKm {
			continue
		}
		annotated := *group
		annotated.DistanceKm = distance
		result = append(result, &annotated)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].DistanceKm < result[j].DistanceKm
	})

	if len(result) > discoveryDisplayCap {
		result = result[:discoveryDisplayCap]
	}
	return result
}

// retryableSubstrings classifies transport-level failures worth one
// simplified retry.
var retryableSubstrings = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"no such host",
	"network is unreachable",
	"EOF",
}

func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := err.Error()
	for _, substring := range retryableSubstrings {
		if strings.Contains(msg, substring) {
			return true
		}
	}
	return false
}
