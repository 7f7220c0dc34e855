// Package compare runs document comparisons and wraps the results in a proofproto.Comparison.
//
// Every run starts from fresh offsets and ids, so a Comparator can be shared between goroutines.
// Results are cached by content; the cached lists are copied on the way out, so callers may modify
// what they receive.
package compare

import (
	"log"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"gihan9a/docproof/internal/annotate"
	"gihan9a/docproof/internal/engine"
	"gihan9a/docproof/internal/metrics"
	"gihan9a/docproof/internal/utils"
	"gihan9a/docproof/pkg/proofproto"
)

// Options configure a Comparator.
type Options struct {
	Engine        engine.Options
	Layout        annotate.Layout
	CacheTTL      time.Duration // CacheTTL of zero disables the result cache
	CacheCapacity uint64        // CacheCapacity of zero means unbounded
}

// Comparator runs comparisons.
type Comparator struct {
	engine *engine.Engine
	layout annotate.Layout
	cache  *ttlcache.Cache[string, annotate.Result]
	now    func() time.Time
}

// New creates a Comparator. Call Close to release the cache's expiration loop.
func New(opts Options) *Comparator {
	c := &Comparator{
		engine: engine.New(opts.Engine),
		layout: opts.Layout,
		now:    time.Now,
	}
	if opts.CacheTTL > 0 {
		cacheOpts := []ttlcache.Option[string, annotate.Result]{
			ttlcache.WithTTL[string, annotate.Result](opts.CacheTTL),
		}
		if opts.CacheCapacity > 0 {
			cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, annotate.Result](opts.CacheCapacity))
		}
		c.cache = ttlcache.New(cacheOpts...)
		go c.cache.Start()
	}
	return c
}

// Close stops the cache's expiration loop
func (c *Comparator) Close() {
	if c.cache != nil {
		c.cache.Stop()
	}
}

// Layout returns the layout overlays are computed with
func (c *Comparator) Layout() annotate.Layout {
	return c.layout
}

// Compare diffs a against b and annotates the result. Empty inputs are diffed like any other text.
func (c *Comparator) Compare(a, b string) *proofproto.Comparison {
	key := utils.ContentKey(a, b)

	if c.cache != nil {
		if item := c.cache.Get(key); item != nil {
			metrics.Comparisons.WithLabelValues(metrics.OutcomeCached).Inc()
			return c.wrap(a, b, cloneResult(item.Value()), true)
		}
	}

	start := time.Now()
	res := annotate.Annotate(c.engine.Compute(a, b), c.layout)
	elapsed := time.Since(start)

	metrics.ComputeLatency.Observe(elapsed.Seconds())
	metrics.Differences.Observe(float64(len(res.Report)))
	metrics.Comparisons.WithLabelValues(metrics.OutcomeComputed).Inc()
	if elapsed > time.Second {
		log.Printf("Slow comparison: %d and %d bytes took %v", len(a), len(b), elapsed)
	}

	if c.cache != nil {
		c.cache.Set(key, cloneResult(res), ttlcache.DefaultTTL)
	}
	return c.wrap(a, b, res, false)
}

// Trigger is the user-facing entry point: it compares only when both documents have content, and
// otherwise returns a comparison with no differences.
func (c *Comparator) Trigger(a, b string) *proofproto.Comparison {
	if a == "" || b == "" {
		metrics.Comparisons.WithLabelValues(metrics.OutcomeSkipped).Inc()
		return c.wrap(a, b, annotate.Annotate(nil, c.layout), false)
	}
	return c.Compare(a, b)
}

func (c *Comparator) wrap(a, b string, res annotate.Result, cached bool) *proofproto.Comparison {
	return &proofproto.Comparison{
		ID:        utils.GenerateRandomID(),
		VersionA:  utils.CalculateHash([]byte(a)),
		VersionB:  utils.CalculateHash([]byte(b)),
		CreatedAt: c.now().UTC(),
		Cached:    cached,
		Summary:   annotate.Summarize(res.Report),
		Report:    res.Report,
		OverlayA:  res.OverlayA,
		OverlayB:  res.OverlayB,
	}
}

func cloneResult(r annotate.Result) annotate.Result {
	return annotate.Result{
		Report:   slices.Clone(r.Report),
		OverlayA: slices.Clone(r.OverlayA),
		OverlayB: slices.Clone(r.OverlayB),
	}
}
