// Package metrics is a small Prometheus registry for the cache and VM
// layers, grounded on gcsfuse's internal/metrics package. Every counter is
// safe to call on a nil *Registry (tests run with metrics disabled).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every counter this kernel extension exports. It is
// constructed once at boot and threaded through the components that need
// it, gathering global observability state into one value.
type Registry struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter
	CacheWriteback prometheus.Counter

	PageFaults    prometheus.Counter
	FrameEviction *prometheus.CounterVec // labeled by page type
	SwapOuts      prometheus.Counter
	SwapIns       prometheus.Counter

	InodeGrowths prometheus.Counter
}

// NewRegistry builds and registers a fresh Registry against reg. Pass
// prometheus.NewRegistry() in production, or nil to get unregistered (but
// still usable) counters in tests.
func NewRegistry(reg *prometheus.Registry) *Registry {
	r := &Registry{
		CacheHits:      prometheus.NewCounter(prometheus.CounterOpts{Name: "bufcache_hits_total"}),
		CacheMisses:    prometheus.NewCounter(prometheus.CounterOpts{Name: "bufcache_misses_total"}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{Name: "bufcache_evictions_total"}),
		CacheWriteback: prometheus.NewCounter(prometheus.CounterOpts{Name: "bufcache_writeback_total"}),
		PageFaults:     prometheus.NewCounter(prometheus.CounterOpts{Name: "vm_page_faults_total"}),
		FrameEviction: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "vm_frame_evictions_total"},
			[]string{"page_type"}),
		SwapOuts:     prometheus.NewCounter(prometheus.CounterOpts{Name: "vm_swap_outs_total"}),
		SwapIns:      prometheus.NewCounter(prometheus.CounterOpts{Name: "vm_swap_ins_total"}),
		InodeGrowths: prometheus.NewCounter(prometheus.CounterOpts{Name: "inode_growths_total"}),
	}
	if reg != nil {
		reg.MustRegister(r.CacheHits, r.CacheMisses, r.CacheEvictions, r.CacheWriteback,
			r.PageFaults, r.FrameEviction, r.SwapOuts, r.SwapIns, r.InodeGrowths)
	}
	return r
}

// incr helpers tolerate a nil Registry so callers never need a nil check.

func (r *Registry) incCacheHit() {
	if r != nil {
		r.CacheHits.Inc()
	}
}
func (r *Registry) incCacheMiss() {
	if r != nil {
		r.CacheMisses.Inc()
	}
}
func (r *Registry) incCacheEviction() {
	if r != nil {
		r.CacheEvictions.Inc()
	}
}
func (r *Registry) incWriteback() {
	if r != nil {
		r.CacheWriteback.Inc()
	}
}
func (r *Registry) incPageFault() {
	if r != nil {
		r.PageFaults.Inc()
	}
}
func (r *Registry) incFrameEviction(pageType string) {
	if r != nil {
		r.FrameEviction.WithLabelValues(pageType).Inc()
	}
}
func (r *Registry) incSwapOut() {
	if r != nil {
		r.SwapOuts.Inc()
	}
}
func (r *Registry) incSwapIn() {
	if r != nil {
		r.SwapIns.Inc()
	}
}
func (r *Registry) incInodeGrowth() {
	if r != nil {
		r.InodeGrowths.Inc()
	}
}

// CacheHit, CacheMiss, ... are the exported entry points; they forward to
// the unexported nil-tolerant increments above so every call site reads
// like reg.CacheHit() regardless of whether reg is nil.
func (r *Registry) CacheHit()               { r.incCacheHit() }
func (r *Registry) CacheMiss()              { r.incCacheMiss() }
func (r *Registry) CacheEviction()          { r.incCacheEviction() }
func (r *Registry) CacheWritebackOccurred() { r.incWriteback() }
func (r *Registry) PageFault()              { r.incPageFault() }
func (r *Registry) FrameEvicted(pageType string) {
	r.incFrameEviction(pageType)
}
func (r *Registry) SwapOut()     { r.incSwapOut() }
func (r *Registry) SwapIn()      { r.incSwapIn() }
func (r *Registry) InodeGrowth() { r.incInodeGrowth() }
