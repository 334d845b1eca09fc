package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/italolelis/torrent_registry/internal/engine"
	"github.com/italolelis/torrent_registry/internal/parse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMagnet      = "magnet:?xt=urn:btih:08ada5a7a6183aae1e09d831df6748d566095a10&dn=Sintel"
	testMagnetOther = "magnet:?xt=urn:btih:dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c&dn=Big+Buck+Bunny"
)

// mockHandle implements engine.Handle for testing.
type mockHandle struct {
	name       string
	files      []engine.File
	removeFunc func(ctx context.Context) error

	mu          sync.Mutex
	removeCalls int
}

func (m *mockHandle) Name() string { return m.name }

func (m *mockHandle) Files() []engine.File { return m.files }

func (m *mockHandle) Remove(ctx context.Context) error {
	m.mu.Lock()
	m.removeCalls++
	m.mu.Unlock()

	if m.removeFunc != nil {
		return m.removeFunc(ctx)
	}

	return nil
}

func (m *mockHandle) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.removeCalls
}

// mockAdapter implements engine.Adapter for testing.
type mockAdapter struct {
	addFunc func(ctx context.Context, magnet, path string) (engine.Handle, error)

	mu         sync.Mutex
	addCalls   int
	lastMagnet string
	lastPath   string
}

func (m *mockAdapter) Name() string { return "mock" }

func (m *mockAdapter) Add(ctx context.Context, magnet, path string) (engine.Handle, error) {
	m.mu.Lock()
	m.addCalls++
	m.lastMagnet = magnet
	m.lastPath = path
	m.mu.Unlock()

	if m.addFunc != nil {
		return m.addFunc(ctx, magnet, path)
	}

	return &mockHandle{name: "mock-torrent"}, nil
}

func (m *mockAdapter) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.addCalls
}

type failingLoader struct{}

func (failingLoader) Load(_ context.Context) ([]string, error) {
	return nil, errors.New("tracker host unreachable")
}

func newTestRegistry(t *testing.T, adapter engine.Adapter, opts ...Option) *Registry {
	t.Helper()

	r, err := New(context.Background(), Config{
		DownloadDir:       t.TempDir(),
		AutocleanInterval: time.Minute,
		SweepDelay:        10 * time.Millisecond,
	}, adapter, nil, opts...)
	require.NoError(t, err)

	return r
}

func TestNew_TrackerLoaderFailureIsAbsorbed(t *testing.T) {
	adapter := &mockAdapter{}

	r, err := New(context.Background(), Config{
		DownloadDir:       t.TempDir(),
		AutocleanInterval: time.Minute,
	}, adapter, failingLoader{})
	require.NoError(t, err)

	assert.Empty(t, r.trackers)
	assert.Empty(t, r.Torrents())
}

func TestAddTorrent_EnrichesRecord(t *testing.T) {
	adapter := &mockAdapter{
		addFunc: func(_ context.Context, _, _ string) (engine.Handle, error) {
			return &mockHandle{
				name: "Sintel",
				files: []engine.File{
					{Path: "Sintel/movie.mkv", Size: 1024},
					{Path: "Sintel/data.xyz123", Size: 64},
				},
			}, nil
		},
	}
	r := newTestRegistry(t, adapter)

	before := time.Now()
	torrent, err := r.AddTorrent(context.Background(), testMagnet)
	require.NoError(t, err)

	assert.Equal(t, "08ada5a7a6183aae1e09d831df6748d566095a10", torrent.InfoHash)
	assert.Equal(t, testMagnet, torrent.Link)
	assert.Equal(t, "Sintel", torrent.Name)
	assert.False(t, torrent.Created.Before(before))
	assert.Equal(t, torrent.Created, torrent.Updated)

	require.Len(t, torrent.Files, 2)
	assert.Equal(t, "video/x-matroska", torrent.Files[0].Type)
	assert.Equal(t, "", torrent.Files[1].Type)
	assert.Equal(t, int64(1088), torrent.TotalSize())
}

func TestAddTorrent_DedupRefreshesTimestampOnly(t *testing.T) {
	adapter := &mockAdapter{}
	r := newTestRegistry(t, adapter)

	first, err := r.AddTorrent(context.Background(), testMagnet)
	require.NoError(t, err)

	second, err := r.AddTorrent(context.Background(), testMagnet)
	require.NoError(t, err)

	assert.Equal(t, 1, adapter.calls(), "adapter must not be invoked for an already tracked hash")
	assert.Equal(t, first.InfoHash, second.InfoHash)
	assert.Equal(t, first.Created, second.Created)
	assert.GreaterOrEqual(t, second.Updated.UnixNano(), first.Updated.UnixNano())

	// The stored record is a fresh copy, not an in-place mutation.
	stored, ok := r.Torrent(first.InfoHash)
	require.True(t, ok)
	assert.Equal(t, second.Updated, stored.Updated)
}

func TestAddTorrent_InvalidLink(t *testing.T) {
	tests := []struct {
		name string
		link string
	}{
		{name: "empty link", link: ""},
		{name: "malformed magnet", link: "magnet:?xt=urn:btih:not-a-hash"},
		{name: "missing torrent file", link: "/nonexistent/file.torrent"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := &mockAdapter{}
			r := newTestRegistry(t, adapter)

			_, err := r.AddTorrent(context.Background(), tt.link)
			require.Error(t, err)

			var linkErr *parse.InvalidLinkError
			require.ErrorAs(t, err, &linkErr)
			assert.Equal(t, tt.link, linkErr.Link)
			assert.Contains(t, err.Error(), fmt.Sprintf("%q", tt.link))
			assert.Equal(t, 0, adapter.calls())
		})
	}
}

func TestAddTorrent_AdapterFailureIsPropagated(t *testing.T) {
	adapter := &mockAdapter{
		addFunc: func(_ context.Context, _, _ string) (engine.Handle, error) {
			return nil, errors.New("engine exploded")
		},
	}
	r := newTestRegistry(t, adapter)

	_, err := r.AddTorrent(context.Background(), testMagnet)
	require.ErrorContains(t, err, "engine exploded")
	assert.Empty(t, r.Torrents(), "failed adds must not leave records behind")
}

func TestAddTorrent_ConcurrentAddsStartOneDownload(t *testing.T) {
	release := make(chan struct{})
	adapter := &mockAdapter{
		addFunc: func(_ context.Context, _, _ string) (engine.Handle, error) {
			<-release

			return &mockHandle{name: "slow"}, nil
		},
	}
	r := newTestRegistry(t, adapter)

	const concurrency = 4

	var wg sync.WaitGroup

	results := make([]*Torrent, concurrency)
	errs := make([]error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.AddTorrent(context.Background(), testMagnet)
		}(i)
	}

	// Let every goroutine reach the adapter gate before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < concurrency; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].InfoHash, results[i].InfoHash)
	}

	assert.Equal(t, 1, adapter.calls(), "concurrent adds of a new hash must start a single download")
	assert.Len(t, r.Torrents(), 1)
}

func TestStartDownload_AlreadyTrackedHashSkipsAdapter(t *testing.T) {
	adapter := &mockAdapter{}
	r := newTestRegistry(t, adapter)

	first, err := r.AddTorrent(context.Background(), testMagnet)
	require.NoError(t, err)

	// A flight that starts after a previous one already inserted the hash
	// must behave like a re-add.
	got, err := r.startDownload(context.Background(), testMagnet, first.InfoHash, testMagnet)
	require.NoError(t, err)

	assert.Equal(t, 1, adapter.calls(), "a tracked hash must not start a second download")
	assert.Equal(t, first.InfoHash, got.InfoHash)
	assert.Equal(t, first.Created, got.Created)
	assert.GreaterOrEqual(t, got.Updated.UnixNano(), first.Updated.UnixNano())
	assert.Len(t, r.Torrents(), 1)
}

func TestTorrent_UnknownHashIsAbsence(t *testing.T) {
	r := newTestRegistry(t, &mockAdapter{})

	torrent, ok := r.Torrent("ffffffffffffffffffffffffffffffffffffffff")
	assert.False(t, ok)
	assert.Nil(t, torrent)
}

func TestRemoveTorrent_UnknownHashIsNoop(t *testing.T) {
	r := newTestRegistry(t, &mockAdapter{})

	_, err := r.AddTorrent(context.Background(), testMagnet)
	require.NoError(t, err)

	require.NoError(t, r.RemoveTorrent(context.Background(), "ffffffffffffffffffffffffffffffffffffffff"))
	assert.Len(t, r.Torrents(), 1)
}

func TestRemoveTorrent_InvokesHandleOnce(t *testing.T) {
	handle := &mockHandle{name: "Sintel"}
	adapter := &mockAdapter{
		addFunc: func(_ context.Context, _, _ string) (engine.Handle, error) {
			return handle, nil
		},
	}
	r := newTestRegistry(t, adapter)

	torrent, err := r.AddTorrent(context.Background(), testMagnet)
	require.NoError(t, err)

	require.NoError(t, r.RemoveTorrent(context.Background(), torrent.InfoHash))

	assert.Equal(t, 1, handle.calls())
	assert.Empty(t, r.Torrents())
}

func TestRemoveTorrent_FailureKeepsRecordTracked(t *testing.T) {
	handle := &mockHandle{
		name: "Sintel",
		removeFunc: func(_ context.Context) error {
			return errors.New("engine busy")
		},
	}
	adapter := &mockAdapter{
		addFunc: func(_ context.Context, _, _ string) (engine.Handle, error) {
			return handle, nil
		},
	}
	r := newTestRegistry(t, adapter)

	torrent, err := r.AddTorrent(context.Background(), testMagnet)
	require.NoError(t, err)

	err = r.RemoveTorrent(context.Background(), torrent.InfoHash)
	require.ErrorContains(t, err, "engine busy")

	_, ok := r.Torrent(torrent.InfoHash)
	assert.True(t, ok, "record must stay tracked when removal fails")
}

func TestSweep_RemovesOnlyExpiredTorrents(t *testing.T) {
	handles := map[string]*mockHandle{}
	adapter := &mockAdapter{
		addFunc: func(_ context.Context, magnet, _ string) (engine.Handle, error) {
			h := &mockHandle{name: magnet}
			handles[magnet] = h

			return h, nil
		},
	}
	r := newTestRegistry(t, adapter)
	r.autoclean = 60 * time.Second
	r.sweepDelay = time.Hour

	expired, err := r.AddTorrent(context.Background(), testMagnet)
	require.NoError(t, err)

	fresh, err := r.AddTorrent(context.Background(), testMagnetOther)
	require.NoError(t, err)

	r.mu.Lock()
	r.torrents[expired.InfoHash].Updated = time.Now().Add(-61 * time.Second)
	r.torrents[fresh.InfoHash].Updated = time.Now().Add(-59 * time.Second)
	r.mu.Unlock()

	require.NoError(t, r.checkForExpiredTorrents(context.Background()))

	_, ok := r.Torrent(expired.InfoHash)
	assert.False(t, ok, "torrent older than the interval must be swept")

	_, ok = r.Torrent(fresh.InfoHash)
	assert.True(t, ok, "torrent within the interval must be retained")

	assert.False(t, r.cleaning.Load(), "clean lock must be released after the sweep")
}

func TestSweep_ConcurrentSweepIsDropped(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	handle := &mockHandle{
		name: "Sintel",
		removeFunc: func(_ context.Context) error {
			close(started)
			<-release

			return nil
		},
	}
	adapter := &mockAdapter{
		addFunc: func(_ context.Context, _, _ string) (engine.Handle, error) {
			return handle, nil
		},
	}
	r := newTestRegistry(t, adapter)
	r.sweepDelay = time.Hour

	torrent, err := r.AddTorrent(context.Background(), testMagnet)
	require.NoError(t, err)

	r.mu.Lock()
	r.torrents[torrent.InfoHash].Updated = time.Now().Add(-2 * time.Minute)
	r.mu.Unlock()

	done := make(chan error, 1)

	go func() {
		done <- r.checkForExpiredTorrents(context.Background())
	}()

	<-started

	// A sweep triggered while another runs returns immediately, no side effects.
	require.NoError(t, r.checkForExpiredTorrents(context.Background()))
	assert.Equal(t, 1, handle.calls())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, handle.calls(), "expired torrent must be removed exactly once")
}

func TestSweep_RemovalFailureTruncatesPass(t *testing.T) {
	var removeAttempts int

	var mu sync.Mutex

	adapter := &mockAdapter{
		addFunc: func(_ context.Context, _, _ string) (engine.Handle, error) {
			return &mockHandle{
				name: "broken",
				removeFunc: func(_ context.Context) error {
					mu.Lock()
					removeAttempts++
					mu.Unlock()

					return errors.New("removal refused")
				},
			}, nil
		},
	}
	r := newTestRegistry(t, adapter)
	r.sweepDelay = time.Hour

	for _, link := range []string{testMagnet, testMagnetOther} {
		torrent, err := r.AddTorrent(context.Background(), link)
		require.NoError(t, err)

		r.mu.Lock()
		r.torrents[torrent.InfoHash].Updated = time.Now().Add(-2 * time.Minute)
		r.mu.Unlock()
	}

	err := r.checkForExpiredTorrents(context.Background())
	require.ErrorContains(t, err, "removal refused")

	mu.Lock()
	attempts := removeAttempts
	mu.Unlock()

	assert.Equal(t, 1, attempts, "first failing removal must abort the remaining pass")
	assert.Len(t, r.Torrents(), 2, "failed removals must leave records tracked")
	assert.False(t, r.cleaning.Load(), "clean lock must be released even when the sweep fails")
}

func TestAddTorrent_SchedulesDeferredSweep(t *testing.T) {
	adapter := &mockAdapter{}
	r := newTestRegistry(t, adapter)
	r.autoclean = time.Minute

	stale, err := r.AddTorrent(context.Background(), testMagnet)
	require.NoError(t, err)

	r.mu.Lock()
	r.torrents[stale.InfoHash].Updated = time.Now().Add(-2 * time.Minute)
	r.mu.Unlock()

	// A fresh add pays for a maintenance pass shortly afterwards.
	_, err = r.AddTorrent(context.Background(), testMagnetOther)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := r.Torrent(stale.InfoHash)

		return !ok
	}, time.Second, 5*time.Millisecond, "deferred sweep must remove the stale torrent")

	_, ok := r.Torrent("dd8255ecdc7ca55fb0bbf81323d87062db1f6d1c")
	assert.True(t, ok)
}
