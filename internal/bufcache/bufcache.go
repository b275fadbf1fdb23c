// Package bufcache implements a fixed-size write-back block cache: a
// bounded associative cache over a device.Device, with clock eviction
// and explicit byte-range copies into/out of caller buffers.
package bufcache

import (
	"sync"

	"kernelfs/internal/defs"
	"kernelfs/internal/device"
	"kernelfs/internal/klog"
	"kernelfs/internal/metrics"
)

// invalidSector marks a slot that holds no sector.
const invalidSector = -1

// entry is one cache slot. The cache-wide mutex (Cache.mu) protects slot
// identity (Sector, in-cache-or-not) and the clock hand; the per-entry
// mutex protects Data/Dirty/Valid/Reference.
type entry struct {
	mu        sync.Mutex
	Sector    int
	Valid     bool
	Dirty     bool
	Reference bool
	Data      []byte
}

// Cache is a bounded, clock-evicted, write-back cache over a device.Device.
type Cache struct {
	mu      sync.Mutex // cache-wide: slot identity + hand
	entries []*entry
	hand    int
	dev     device.Device
	ssize   int
	metrics *metrics.Registry
}

// New constructs a cache of capacity entries over dev.
func New(dev device.Device, capacity int, m *metrics.Registry) *Cache {
	if capacity < 1 {
		panic("bufcache: capacity must be positive")
	}
	c := &Cache{dev: dev, ssize: dev.SectorSize(), metrics: m}
	c.entries = make([]*entry, capacity)
	for i := range c.entries {
		c.entries[i] = &entry{Sector: invalidSector, Data: make([]byte, c.ssize)}
	}
	return c
}

// lookupOrClaim acquires the cache-wide mutex, finds the entry currently
// holding sector (if any), or claims a slot via the clock evictor. It
// returns the entry with its per-entry mutex already held and the
// cache-wide mutex already released, and reports whether the slot was
// already valid for `sector` (a cache hit).
func (c *Cache) lookupOrClaim(sector int) (*entry, bool) {
	c.mu.Lock()
	for _, e := range c.entries {
		if e.Valid && e.Sector == sector {
			e.mu.Lock()
			c.mu.Unlock()
			e.Reference = true
			return e, true
		}
	}
	e := c.evictSlot()
	e.mu.Lock()
	c.mu.Unlock()
	return e, false
}

// evictSlot must be called with c.mu held. It returns a slot ready to be
// repurposed: an invalid slot in preference to eviction (the first
// invalid slot found during an initial pass is used ahead of evicting a
// valid one), otherwise the clock sweep's victim, written back first if
// valid and dirty.
func (c *Cache) evictSlot() *entry {
	for _, e := range c.entries {
		if !e.Valid {
			return e
		}
	}
	for {
		e := c.entries[c.hand]
		c.hand = (c.hand + 1) % len(c.entries)
		e.mu.Lock()
		if !e.Reference {
			e.mu.Unlock()
			c.writebackLocked(e)
			if c.metrics != nil {
				c.metrics.CacheEviction()
			}
			klog.Debug("bufcache: evicting slot", "sector", e.Sector)
			return e
		}
		e.Reference = false
		e.mu.Unlock()
	}
}

// writebackLocked flushes e to disk if valid and dirty. Caller must not
// hold e.mu — flushing an entry acquires its per-entry mutex itself.
func (c *Cache) writebackLocked(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Valid && e.Dirty {
		if err := c.dev.Write(e.Sector, e.Data); err != 0 {
			panic("bufcache: device write failed")
		}
		e.Dirty = false
		if c.metrics != nil {
			c.metrics.CacheWritebackOccurred()
		}
	}
	e.Valid = false
	e.Sector = invalidSector
}

// Read copies length bytes starting at sectorOffset within sector into
// dst[dstOffset:]. Preconditions: sectorOffset+length <= SectorSize().
func (c *Cache) Read(sector int, dst []byte, dstOffset, length, sectorOffset int) defs.Err_t {
	if length == 0 {
		// A 0-byte read returns 0 without touching the cache.
		return 0
	}
	if sectorOffset+length > c.ssize || sectorOffset < 0 || length < 0 {
		return -defs.EINVAL
	}
	e, hit := c.lookupOrClaim(sector)
	defer e.mu.Unlock()
	if !hit {
		if err := c.dev.Read(sector, e.Data); err != 0 {
			panic("bufcache: device read failed")
		}
		e.Sector = sector
		e.Valid = true
		e.Reference = true
		if c.metrics != nil {
			c.metrics.CacheMiss()
		}
	} else if c.metrics != nil {
		c.metrics.CacheHit()
	}
	copy(dst[dstOffset:dstOffset+length], e.Data[sectorOffset:sectorOffset+length])
	return 0
}

// Write copies length bytes from src[srcOffset:] into sector at
// sectorOffset and marks the slot dirty. If the write does not cover the
// whole sector and the sector is not already cached, the sector is first
// read from the device to preserve the untouched bytes.
func (c *Cache) Write(sector int, src []byte, srcOffset, length, sectorOffset int) defs.Err_t {
	if sectorOffset+length > c.ssize || sectorOffset < 0 || length < 0 {
		return -defs.EINVAL
	}
	e, hit := c.lookupOrClaim(sector)
	defer e.mu.Unlock()
	wholeSector := sectorOffset == 0 && length == c.ssize
	if !hit {
		if wholeSector {
			// The device is written lazily on eviction or shutdown, so a
			// whole-sector write may skip the read entirely.
			e.Sector = sector
			e.Valid = true
		} else {
			if err := c.dev.Read(sector, e.Data); err != 0 {
				panic("bufcache: device read failed")
			}
			e.Sector = sector
			e.Valid = true
		}
		if c.metrics != nil {
			c.metrics.CacheMiss()
		}
	} else if c.metrics != nil {
		c.metrics.CacheHit()
	}
	e.Reference = true
	copy(e.Data[sectorOffset:sectorOffset+length], src[srcOffset:srcOffset+length])
	e.Dirty = true
	return 0
}

// FlushAll writes back every dirty-and-valid entry.
func (c *Cache) FlushAll() defs.Err_t {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.mu.Lock()
		if e.Valid && e.Dirty {
			if err := c.dev.Write(e.Sector, e.Data); err != 0 {
				e.mu.Unlock()
				return -defs.EINVAL
			}
			e.Dirty = false
			if c.metrics != nil {
				c.metrics.CacheWritebackOccurred()
			}
		}
		e.mu.Unlock()
	}
	return 0
}

// Shutdown flushes every dirty entry and invalidates the cache.
func (c *Cache) Shutdown() defs.Err_t {
	if err := c.FlushAll(); err != 0 {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		e.mu.Lock()
		e.Valid = false
		e.Sector = invalidSector
		e.mu.Unlock()
	}
	return 0
}

// Capacity reports the number of cache slots.
func (c *Cache) Capacity() int { return len(c.entries) }

// SectorSize reports the device's sector size (S).
func (c *Cache) SectorSize() int { return c.ssize }
