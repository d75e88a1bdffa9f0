package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"dnsscanner/internal/ipv4"

	"golang.org/x/sync/singleflight"
)

var ErrNoHost = errors.New("probe: no host name for address")

const (
	DefaultCacheTTL      = 12 * time.Hour
	DefaultLookupTimeout = 2 * time.Second
)

// AddrLookuper is the subset of net.Resolver used for reverse lookups.
type AddrLookuper interface {
	LookupAddr(ctx context.Context, addr string) ([]string, error)
}

type dnsCacheEntry struct {
	name    string
	expires time.Time
}

// SystemResolver performs PTR lookups through the system resolver. Concurrent
// lookups for one address share a single query and answers are cached,
// including empty ones.
type SystemResolver struct {
	lookup  AddrLookuper
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	cache sync.Map
	group singleflight.Group
}

func NewSystemResolver(lookup AddrLookuper, ttl, timeout time.Duration) *SystemResolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	return &SystemResolver{
		lookup:  lookup,
		ttl:     ttl,
		timeout: timeout,
		now:     time.Now,
	}
}

func (r *SystemResolver) ResolveHost(ctx context.Context, addr ipv4.Address) (string, error) {
	key := addr.String()
	now := r.now()

	if entry, ok := r.cache.Load(key); ok {
		cached := entry.(dnsCacheEntry)
		if now.Before(cached.expires) {
			return hostOrMissing(cached.name)
		}
	}

	result, err, _ := r.group.Do(key, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		names, err := r.lookup.LookupAddr(lookupCtx, key)
		if err != nil {
			// Transport failures are not cached.
			if !isNotFound(err) {
				return "", err
			}
			names = nil
		}
		return firstName(names), nil
	})
	if err != nil {
		return "", fmt.Errorf("probe: reverse lookup %s: %w", key, err)
	}

	name := result.(string)
	r.cache.Store(key, dnsCacheEntry{name: name, expires: now.Add(r.ttl)})
	return hostOrMissing(name)
}

// Purge drops expired cache entries.
func (r *SystemResolver) Purge() {
	now := r.now()
	r.cache.Range(func(key, value any) bool {
		if !now.Before(value.(dnsCacheEntry).expires) {
			r.cache.Delete(key)
		}
		return true
	})
}

func firstName(names []string) string {
	for _, name := range names {
		if trimmed := TrimHost(name); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// TrimHost removes the trailing root dot from a fully qualified name.
func TrimHost(name string) string {
	return strings.TrimSuffix(strings.TrimSpace(name), ".")
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr) && dnsErr.IsNotFound
}

func hostOrMissing(name string) (string, error) {
	if name == "" {
		return "", ErrNoHost
	}
	return name, nil
}
