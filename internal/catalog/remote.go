package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/hutchvm/hutch/internal/logging"
	"github.com/hutchvm/hutch/internal/models"
)

const manifestPath = "streams/v1/catalog.json"

// DefaultRelease is resolved when a query carries an empty release.
const DefaultRelease = "default"

// product is one entry of a remote's manifest. Artifact locations may be
// absolute URLs or paths relative to the remote's base URL.
type product struct {
	Release string   `json:"release"`
	Version string   `json:"version"`
	Aliases []string `json:"aliases"`
	ID      string   `json:"id"`
	Image   string   `json:"image"`
	Kernel  string   `json:"kernel"`
	Initrd  string   `json:"initrd"`
}

type manifest struct {
	Products []product `json:"products"`
}

type cachedManifest struct {
	manifest  manifest
	fetchedAt time.Time
}

// RemoteHost resolves queries against named HTTP remotes, each serving a
// JSON manifest of its published images. Manifests are cached per remote
// for TTL so that back-to-back resolutions of the same query, such as a
// fetch followed by an invalidation pass, reuse one download.
type RemoteHost struct {
	Logger *slog.Logger

	remotes       map[string]string
	defaultRemote string
	ttl           time.Duration
	client        *retryablehttp.Client
	cache         map[string]cachedManifest
	now           func() time.Time
}

// NewRemoteHost constructs a host for the given remote name to base URL
// mapping. Queries without a "remote:" prefix resolve against
// defaultRemote.
func NewRemoteHost(remotes map[string]string, defaultRemote string, ttl time.Duration, logger *slog.Logger) *RemoteHost {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.Logger = nil

	copied := make(map[string]string, len(remotes))
	for name, base := range remotes {
		copied[name] = base
	}

	return &RemoteHost{
		Logger:        logger,
		remotes:       copied,
		defaultRemote: defaultRemote,
		ttl:           ttl,
		client:        client,
		cache:         make(map[string]cachedManifest),
		now:           time.Now,
	}
}

// InfoFor resolves the query's release, or an alias of it, to the newest
// matching image version published by the responsible remote.
func (h *RemoteHost) InfoFor(ctx context.Context, query models.Query) (models.VMImageInfo, error) {
	remote, release := splitRelease(query.Release)
	if remote == "" {
		remote = h.defaultRemote
	}
	if release == "" {
		release = DefaultRelease
	}

	base, ok := h.remotes[remote]
	if !ok {
		return models.VMImageInfo{}, &UnsupportedRemoteError{Remote: remote}
	}

	m, err := h.manifestFor(ctx, remote, base)
	if err != nil {
		return models.VMImageInfo{}, err
	}

	var match *product
	for i := range m.Products {
		p := &m.Products[i]
		if !matchesRelease(p, release) {
			continue
		}
		if match == nil || p.Version > match.Version {
			match = p
		}
	}
	if match == nil {
		return models.VMImageInfo{}, &NotFoundError{Remote: remote, Release: release}
	}

	info := models.VMImageInfo{
		ID:             match.ID,
		Release:        match.Release,
		Version:        match.Version,
		ImageLocation:  resolveLocation(base, match.Image),
		KernelLocation: resolveLocation(base, match.Kernel),
		InitrdLocation: resolveLocation(base, match.Initrd),
	}
	return info, nil
}

func (h *RemoteHost) manifestFor(ctx context.Context, remote, base string) (manifest, error) {
	if cached, ok := h.cache[remote]; ok && h.now().Sub(cached.fetchedAt) < h.ttl {
		return cached.manifest, nil
	}

	manifestURL := resolveLocation(base, manifestPath)
	logging.Ensure(h.Logger).Debug("fetching catalog manifest", "remote", remote, "url", manifestURL)

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", manifestURL, nil)
	if err != nil {
		return manifest{}, &UnavailableError{URL: manifestURL, Err: err}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return manifest{}, &UnavailableError{URL: manifestURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return manifest{}, &UnavailableError{URL: manifestURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return manifest{}, &UnavailableError{URL: manifestURL, Err: err}
	}

	var m manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return manifest{}, &UnavailableError{URL: manifestURL, Err: fmt.Errorf("decode manifest: %w", err)}
	}

	h.cache[remote] = cachedManifest{manifest: m, fetchedAt: h.now()}
	return m, nil
}

func matchesRelease(p *product, release string) bool {
	if p.Release == release {
		return true
	}
	for _, alias := range p.Aliases {
		if alias == release {
			return true
		}
	}
	return false
}

// splitRelease separates an optional "remote:" prefix from a release. A
// release with no prefix belongs to the default remote.
func splitRelease(release string) (remote, bare string) {
	if before, after, found := strings.Cut(release, ":"); found {
		return before, after
	}
	return "", release
}

func resolveLocation(base, location string) string {
	if location == "" {
		return ""
	}
	if strings.Contains(location, "://") {
		return location
	}
	joined, err := url.JoinPath(base, location)
	if err != nil {
		return base + "/" + location
	}
	return joined
}
