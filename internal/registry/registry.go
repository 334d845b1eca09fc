// Package registry tracks active torrent downloads: adding torrents by link,
// holding their enriched metadata in memory, and expiring torrents that have
// not been touched within the configured interval.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/torrent_registry/internal/engine"
	"github.com/italolelis/torrent_registry/internal/engine/native"
	"github.com/italolelis/torrent_registry/internal/logctx"
	"github.com/italolelis/torrent_registry/internal/parse"
	"github.com/italolelis/torrent_registry/internal/storage"
	"github.com/italolelis/torrent_registry/internal/telemetry"
	"golang.org/x/sync/singleflight"
)

const defaultSweepDelay = time.Second

// File is a torrent file entry enriched with its MIME type. Type is empty
// when the extension is unknown.
type File struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Torrent is a tracked torrent record. Created is set once; Updated is
// refreshed every time the same info hash is re-added.
type Torrent struct {
	InfoHash string    `json:"infoHash"`
	Link     string    `json:"link"`
	Name     string    `json:"name"`
	Files    []File    `json:"files"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`

	handle engine.Handle
}

// TotalSize returns the sum of all file sizes.
func (t *Torrent) TotalSize() int64 {
	var total int64
	for _, f := range t.Files {
		total += f.Size
	}

	return total
}

// TrackerLoader yields a list of tracker announce URLs.
type TrackerLoader interface {
	Load(ctx context.Context) ([]string, error)
}

// LinkParser resolves a torrent link into a structured descriptor.
type LinkParser interface {
	Parse(ctx context.Context, link string) (*parse.Descriptor, error)
}

// Config holds the registry settings.
type Config struct {
	// DownloadDir is the directory handed to the adapter for torrent data.
	DownloadDir string
	// AutocleanInterval is how long a torrent may stay untouched before the
	// expiry sweep removes it.
	AutocleanInterval time.Duration
	// SweepDelay is the delay before the deferred sweep triggered by each
	// add. Defaults to one second.
	SweepDelay time.Duration
}

// Registry is the in-memory index of tracked torrents. One instance per
// configured download root.
type Registry struct {
	mu       sync.Mutex
	torrents map[string]*Torrent

	// cleaning caps expiry sweeps at one at a time; a sweep triggered while
	// another runs is dropped.
	cleaning atomic.Bool

	// adding collapses concurrent adds of the same new info hash into a
	// single adapter call.
	adding singleflight.Group

	adapter  engine.Adapter
	parser   LinkParser
	journal  storage.TorrentRepository
	tel      *telemetry.Telemetry
	trackers []string

	downloadDir string
	autoclean   time.Duration
	sweepDelay  time.Duration
}

// Option configures optional registry collaborators.
type Option func(*Registry)

// WithJournal persists the registry index so torrents survive a restart.
func WithJournal(journal storage.TorrentRepository) Option {
	return func(r *Registry) { r.journal = journal }
}

// WithTelemetry records registry metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Registry) { r.tel = tel }
}

// WithParser overrides the link parser.
func WithParser(parser LinkParser) Option {
	return func(r *Registry) { r.parser = parser }
}

// New builds a ready registry. It loads the tracker list through the loader;
// a loader failure is logged and absorbed, never propagated. When adapter is
// nil a native engine adapter is instantiated.
func New(ctx context.Context, cfg Config, adapter engine.Adapter, loader TrackerLoader, opts ...Option) (*Registry, error) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.SweepDelay <= 0 {
		cfg.SweepDelay = defaultSweepDelay
	}

	r := &Registry{
		torrents:    make(map[string]*Torrent),
		adapter:     adapter,
		parser:      parse.NewParser(nil),
		downloadDir: cfg.DownloadDir,
		autoclean:   cfg.AutocleanInterval,
		sweepDelay:  cfg.SweepDelay,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.adapter == nil {
		na, err := native.NewAdapter(cfg.DownloadDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create native adapter: %w", err)
		}

		r.adapter = na
	}

	if loader != nil {
		list, err := loader.Load(ctx)
		if err != nil {
			logger.Warn("failed to load tracker list, proceeding without trackers", "err", err)
		} else {
			r.trackers = list
		}
	}

	return r, nil
}

// Torrents returns a snapshot of all tracked torrents. Order is unspecified.
func (r *Registry) Torrents() []*Torrent {
	r.mu.Lock()
	defer r.mu.Unlock()

	torrents := make([]*Torrent, 0, len(r.torrents))
	for _, t := range r.torrents {
		torrents = append(torrents, t)
	}

	return torrents
}

// Torrent returns the tracked torrent for the given info hash.
func (r *Registry) Torrent(infoHash string) (*Torrent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.torrents[infoHash]

	return t, ok
}

// AddTorrent parses the link and starts tracking the torrent. Re-adding a
// torrent that is already tracked refreshes only its Updated timestamp and
// does not reach the adapter. Every successful new add schedules a deferred
// expiry sweep.
func (r *Registry) AddTorrent(ctx context.Context, link string) (*Torrent, error) {
	logger := logctx.LoggerFromContext(ctx)

	desc, err := r.parser.Parse(ctx, link)
	if err != nil {
		return nil, err
	}

	infoHash := desc.InfoHash()

	if t, ok := r.refresh(infoHash); ok {
		logger.Debug("torrent already tracked, refreshing", "info_hash", infoHash)
		r.touchJournal(ctx, infoHash)
		r.tel.RecordTorrent("refreshed")

		return t, nil
	}

	magnet := desc.MagnetURI(r.trackers)

	v, err, shared := r.adding.Do(infoHash, func() (interface{}, error) {
		return r.startDownload(ctx, link, infoHash, magnet)
	})
	if err != nil {
		return nil, err
	}

	if shared {
		// Lost the in-flight race against an identical add; behaves like a
		// re-add of an already tracked torrent.
		if t, ok := r.refresh(infoHash); ok {
			r.touchJournal(ctx, infoHash)
			r.tel.RecordTorrent("refreshed")

			return t, nil
		}
	}

	return v.(*Torrent), nil
}

func (r *Registry) startDownload(ctx context.Context, link, infoHash, magnet string) (*Torrent, error) {
	logger := logctx.LoggerFromContext(ctx)

	// The hash may have been inserted by a flight that completed after the
	// dedup check; starting the engine again would leak a second handle.
	if t, ok := r.refresh(infoHash); ok {
		return t, nil
	}

	handle, err := r.adapter.Add(ctx, magnet, r.downloadDir)
	if err != nil {
		r.tel.RecordAdapterOperation(adapterName(r.adapter), "add", "error")

		return nil, fmt.Errorf("failed to start torrent download: %w", err)
	}

	r.tel.RecordAdapterOperation(adapterName(r.adapter), "add", "success")

	now := time.Now()
	t := &Torrent{
		InfoHash: infoHash,
		Link:     link,
		Name:     handle.Name(),
		Files:    enrichFiles(handle.Files()),
		Created:  now,
		Updated:  now,
		handle:   handle,
	}

	r.mu.Lock()
	r.torrents[infoHash] = t
	r.mu.Unlock()

	if r.journal != nil {
		if err := r.journal.TrackTorrent(infoHash, link); err != nil {
			logger.Warn("failed to journal torrent", "info_hash", infoHash, "err", err)
			r.tel.RecordDBOperation("track", "error")
		} else {
			r.tel.RecordDBOperation("track", "success")
		}
	}

	r.tel.RecordTorrent("added")
	r.tel.IncrementActiveTorrents()

	logger.Info("torrent added",
		"info_hash", infoHash,
		"name", t.Name,
		"file_count", len(t.Files),
		"size", humanize.Bytes(uint64(t.TotalSize())),
	)

	r.scheduleSweep(ctx)

	return t, nil
}

// refresh replaces an existing record with a copy that only has Updated
// renewed, keeping the update atomic under the registry lock.
func (r *Registry) refresh(infoHash string) (*Torrent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.torrents[infoHash]
	if !ok {
		return nil, false
	}

	fresh := *old
	fresh.Updated = time.Now()
	r.torrents[infoHash] = &fresh

	return &fresh, true
}

// RemoveTorrent stops the download and forgets the torrent. Unknown hashes
// are a no-op. The entry is only deleted after the adapter removal succeeds;
// on failure it stays tracked and eligible for a later attempt.
func (r *Registry) RemoveTorrent(ctx context.Context, infoHash string) error {
	logger := logctx.LoggerFromContext(ctx)

	r.mu.Lock()
	t, ok := r.torrents[infoHash]
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if err := t.handle.Remove(ctx); err != nil {
		r.tel.RecordAdapterOperation(adapterName(r.adapter), "remove", "error")

		return fmt.Errorf("failed to remove torrent %s: %w", infoHash, err)
	}

	r.tel.RecordAdapterOperation(adapterName(r.adapter), "remove", "success")

	r.mu.Lock()
	delete(r.torrents, infoHash)
	r.mu.Unlock()

	if r.journal != nil {
		if err := r.journal.ForgetTorrent(infoHash); err != nil {
			logger.Warn("failed to forget journaled torrent", "info_hash", infoHash, "err", err)
			r.tel.RecordDBOperation("forget", "error")
		} else {
			r.tel.RecordDBOperation("forget", "success")
		}
	}

	r.tel.RecordTorrent("removed")
	r.tel.DecrementActiveTorrents()

	logger.Info("torrent removed", "info_hash", infoHash, "name", t.Name)

	return nil
}

// Resume re-adds every journaled torrent, keeping the journaled creation
// time on the restored record. Links that no longer parse are dropped from
// the journal; other failures are logged and skipped. Resume never fails
// because of an individual torrent.
func (r *Registry) Resume(ctx context.Context) error {
	if r.journal == nil {
		return nil
	}

	logger := logctx.LoggerFromContext(ctx)

	records, err := r.journal.GetTorrents()
	if err != nil {
		return fmt.Errorf("failed to read journaled torrents: %w", err)
	}

	for _, rec := range records {
		t, err := r.AddTorrent(ctx, rec.Link)
		if err != nil {
			logger.Warn("failed to resume journaled torrent", "info_hash", rec.InfoHash, "err", err)

			var linkErr *parse.InvalidLinkError
			if errors.As(err, &linkErr) {
				if err := r.journal.ForgetTorrent(rec.InfoHash); err != nil {
					logger.Warn("failed to drop dead journal entry", "info_hash", rec.InfoHash, "err", err)
				}
			}

			continue
		}

		if created, perr := time.Parse(time.RFC3339, rec.CreatedAt); perr == nil {
			r.mu.Lock()
			if cur, ok := r.torrents[t.InfoHash]; ok {
				cur.Created = created
			}
			r.mu.Unlock()
		}
	}

	return nil
}

// scheduleSweep fires a one-shot deferred expiry sweep. Sweep failures are
// confined to a log line and never reach the caller of AddTorrent.
func (r *Registry) scheduleSweep(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)
	sweepCtx := logctx.WithLogger(context.WithoutCancel(ctx), logger)

	time.AfterFunc(r.sweepDelay, func() {
		if err := r.checkForExpiredTorrents(sweepCtx); err != nil {
			logger.Error("expiry sweep failed", "err", err)
		}
	})
}

// checkForExpiredTorrents removes every torrent whose Updated timestamp is
// older than the autoclean interval. Only one sweep runs at a time; a sweep
// triggered while another is in progress returns immediately. A removal
// failure aborts the remaining iterations of the pass; the next sweep
// retries.
func (r *Registry) checkForExpiredTorrents(ctx context.Context) error {
	if !r.cleaning.CompareAndSwap(false, true) {
		return nil
	}
	defer r.cleaning.Store(false)

	logger := logctx.LoggerFromContext(ctx)
	start := time.Now()

	r.mu.Lock()
	var expired []*Torrent
	for _, t := range r.torrents {
		if start.Sub(t.Updated) > r.autoclean {
			expired = append(expired, t)
		}
	}
	r.mu.Unlock()

	for _, t := range expired {
		logger.Info("removing expired torrent", "name", t.Name, "info_hash", t.InfoHash)

		if err := r.RemoveTorrent(ctx, t.InfoHash); err != nil {
			r.tel.RecordSweep("error", time.Since(start))

			return fmt.Errorf("failed to remove expired torrent: %w", err)
		}

		r.tel.RecordTorrent("expired")
	}

	r.tel.RecordSweep("success", time.Since(start))

	return nil
}

func (r *Registry) touchJournal(ctx context.Context, infoHash string) {
	if r.journal == nil {
		return
	}

	if err := r.journal.TouchTorrent(infoHash); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to touch journaled torrent", "info_hash", infoHash, "err", err)
		r.tel.RecordDBOperation("touch", "error")
	} else {
		r.tel.RecordDBOperation("touch", "success")
	}
}

func enrichFiles(files []engine.File) []File {
	enriched := make([]File, 0, len(files))
	for _, f := range files {
		enriched = append(enriched, File{
			Path: f.Path,
			Size: f.Size,
			Type: typeByName(f.Path),
		})
	}

	return enriched
}

func adapterName(a engine.Adapter) string {
	if n, ok := a.(interface{ Name() string }); ok {
		return n.Name()
	}

	return "unknown"
}
