package detector

import (
	"context"
	"log/slog"

	"github.com/rgupta21/vigil/internal/ipinfo"
	"github.com/rgupta21/vigil/internal/journal"
	"github.com/rgupta21/vigil/internal/metrics"
)

// Classifier decides whether an IP change is benign or suspicious by
// comparing provider/region metadata for the old and new addresses.
//
// Classification never fails: a lookup error degrades that side to the
// Unknown sentinel, and Unknown never matches anything, so unresolved
// data is never classified as benign.
type Classifier struct {
	resolver ipinfo.Resolver
	logger   *slog.Logger
}

// NewClassifier creates a classifier over the given resolver.
func NewClassifier(resolver ipinfo.Resolver, logger *slog.Logger) *Classifier {
	return &Classifier{resolver: resolver, logger: logger}
}

// Classify returns BENIGN iff both provider and region match exactly
// between the two addresses; otherwise SUSPICIOUS.
func (c *Classifier) Classify(ctx context.Context, oldIP, newIP string) journal.ChangeType {
	oldInfo := c.resolve(ctx, oldIP)
	newInfo := c.resolve(ctx, newIP)

	if oldInfo.IsUnknown() || newInfo.IsUnknown() {
		return journal.ChangeSuspicious
	}
	if oldInfo.Provider == newInfo.Provider && oldInfo.Region == newInfo.Region {
		return journal.ChangeBenign
	}
	return journal.ChangeSuspicious
}

// resolve is the best-effort lookup: any failure or missing field maps
// to the Unknown sentinel.
func (c *Classifier) resolve(ctx context.Context, ip string) ipinfo.Info {
	info, err := c.resolver.Lookup(ctx, ip)
	if err != nil {
		metrics.LookupFailuresTotal.Inc()
		c.logger.Debug("ip metadata lookup failed", "ip", ip, "error", err)
		return ipinfo.Info{Provider: ipinfo.Unknown, Region: ipinfo.Unknown}
	}
	if info.Provider == "" {
		info.Provider = ipinfo.Unknown
	}
	if info.Region == "" {
		info.Region = ipinfo.Unknown
	}
	return info
}
