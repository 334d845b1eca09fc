// Package native provides a torrent adapter backed by the embedded
// anacrolix/torrent engine.
package native

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/anacrolix/torrent"
	"github.com/italolelis/torrent_registry/internal/engine"
)

// Adapter downloads torrents in-process. Data is stored under the directory
// the client was configured with.
type Adapter struct {
	client *torrent.Client
}

func NewAdapter(dataDir string) (*Adapter, error) {
	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = dataDir
	cfg.ListenPort = 0 // let the system choose a port

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create torrent client: %w", err)
	}

	return &Adapter{client: client}, nil
}

func (a *Adapter) Name() string { return "native" }

// Add starts downloading the magnet. It blocks until the torrent metadata is
// known or the context is cancelled.
func (a *Adapter) Add(ctx context.Context, magnet string, path string) (engine.Handle, error) {
	t, err := a.client.AddMagnet(magnet)
	if err != nil {
		return nil, fmt.Errorf("failed to add magnet: %w", err)
	}

	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		t.Drop()

		return nil, ctx.Err()
	}

	t.DownloadAll()

	return &handle{t: t, dataDir: path}, nil
}

// Close shuts down the engine and every torrent it carries.
func (a *Adapter) Close() error {
	return errors.Join(a.client.Close()...)
}

type handle struct {
	t       *torrent.Torrent
	dataDir string
}

func (h *handle) Name() string {
	return h.t.Name()
}

func (h *handle) Files() []engine.File {
	torrentFiles := h.t.Files()

	files := make([]engine.File, 0, len(torrentFiles))
	for _, f := range torrentFiles {
		files = append(files, engine.File{
			Path: f.DisplayPath(),
			Size: f.Length(),
		})
	}

	return files
}

// Remove drops the torrent from the engine and deletes its data on disk.
func (h *handle) Remove(_ context.Context) error {
	info := h.t.Info()

	var paths []string
	if info != nil {
		for _, f := range h.t.Files() {
			paths = append(paths, f.Path())
		}
	}

	name := h.t.Name()
	h.t.Drop()

	var errs []error

	for _, p := range paths {
		if err := os.Remove(filepath.Join(h.dataDir, p)); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}

	if info != nil && info.IsDir() {
		// Best effort: the torrent directory may hold leftovers.
		_ = os.RemoveAll(filepath.Join(h.dataDir, name))
	}

	return errors.Join(errs...)
}
