package recommend

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voxpipe-server/pkg/util"
)

// catalog maps emotion and content keywords to suggestion lists. Lookups are
// case-insensitive and match on substring, so the free-form labels coming out
// of emotion analysis still hit a bucket.
var catalog = map[string][]string{
	"comfort": {"About Time", "Night Letter by IU", "Little Forest"},
	"upbeat":  {"Dynamite by BTS", "Butter by BTS", "Good Day by IU"},
	"book":    {"Sapiens", "Dallergut Dream Department Store", "The Midnight Library"},
	"movie":   {"Interstellar", "Parasite", "About Time"},
	"music":   {"Blueming by IU", "Spring Day by BTS", "Through the Night by IU"},
}

// Provider answers keyword lookups against the built-in catalog, caching
// results in its own TTL cache. Each Provider owns its cache; there is no
// process-wide shared instance.
type Provider struct {
	logger *logrus.Logger
	cache  *util.LRUCache
}

// NewProvider creates a recommendation provider with a provider-owned cache.
func NewProvider(logger *logrus.Logger) *Provider {
	return &Provider{
		logger: logger,
		cache:  util.NewLRUCache(256, time.Hour),
	}
}

// Lookup returns suggestions for the keyword, or nil when nothing matches.
func (p *Provider) Lookup(keyword string) []string {
	key := strings.ToLower(strings.TrimSpace(keyword))
	if key == "" {
		return nil
	}

	if cached, ok := p.cache.Get(key); ok {
		items, _ := cached.([]string)
		return items
	}

	items := p.resolve(key)
	p.cache.Set(key, items)

	if len(items) > 0 {
		p.logger.WithFields(logrus.Fields{
			"keyword": key,
			"count":   len(items),
		}).Debug("Recommendation lookup resolved")
	}
	return items
}

func (p *Provider) resolve(key string) []string {
	if items, ok := catalog[key]; ok {
		return items
	}
	for bucket, items := range catalog {
		if strings.Contains(key, bucket) || strings.Contains(bucket, key) {
			return items
		}
	}
	return nil
}

// Close releases the provider's cache.
func (p *Provider) Close() {
	p.cache.Close()
}
