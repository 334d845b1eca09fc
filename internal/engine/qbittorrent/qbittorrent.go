// Package qbittorrent provides a torrent adapter backed by a remote
// qBittorrent instance.
package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	qbittorrent "github.com/autobrr/go-qbittorrent"
	"github.com/italolelis/torrent_registry/internal/engine"
)

// metadataPollInterval paces the wait for qBittorrent to register a freshly
// added torrent and resolve its metadata.
const metadataPollInterval = 500 * time.Millisecond

type Adapter struct {
	client *qbittorrent.Client
}

func NewAdapter(ctx context.Context, host, username, password string) (*Adapter, error) {
	client := qbittorrent.NewClient(qbittorrent.Config{
		Host:     host,
		Username: username,
		Password: password,
	})

	if err := client.LoginCtx(ctx); err != nil {
		return nil, &engine.AuthenticationError{Operation: "login", Err: err}
	}

	return &Adapter{client: client}, nil
}

func (a *Adapter) Name() string { return "qbittorrent" }

// Add submits the magnet and waits until qBittorrent reports the torrent.
func (a *Adapter) Add(ctx context.Context, magnet string, path string) (engine.Handle, error) {
	m, err := metainfo.ParseMagnetUri(magnet)
	if err != nil {
		return nil, fmt.Errorf("failed to parse magnet: %w", err)
	}

	hash := strings.ToLower(m.InfoHash.HexString())

	opts := map[string]string{
		"savepath": path,
	}

	if err := a.client.AddTorrentFromUrlCtx(ctx, magnet, opts); err != nil {
		return nil, &engine.NetworkError{
			Operation:  "add_torrent",
			APIMessage: err.Error(),
			Err:        err,
		}
	}

	name, err := a.waitForTorrent(ctx, hash)
	if err != nil {
		return nil, err
	}

	return &handle{client: a.client, hash: hash, name: name}, nil
}

func (a *Adapter) waitForTorrent(ctx context.Context, hash string) (string, error) {
	ticker := time.NewTicker(metadataPollInterval)
	defer ticker.Stop()

	for {
		torrents, err := a.client.GetTorrentsCtx(ctx, qbittorrent.TorrentFilterOptions{
			Hashes: []string{hash},
		})
		if err != nil {
			return "", &engine.NetworkError{
				Operation:  "get_torrents",
				APIMessage: err.Error(),
				Err:        err,
			}
		}

		if len(torrents) > 0 && torrents[0].Name != "" {
			return torrents[0].Name, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

type handle struct {
	client *qbittorrent.Client
	hash   string
	name   string
}

func (h *handle) Name() string {
	return h.name
}

func (h *handle) Files() []engine.File {
	filesInfo, err := h.client.GetFilesInformationCtx(context.Background(), h.hash)
	if err != nil || filesInfo == nil {
		return nil
	}

	files := make([]engine.File, 0, len(*filesInfo))
	for _, f := range *filesInfo {
		files = append(files, engine.File{
			Path: f.Name,
			Size: f.Size,
		})
	}

	return files
}

// Remove deletes the torrent and its data from the qBittorrent instance.
func (h *handle) Remove(ctx context.Context) error {
	if err := h.client.DeleteTorrentsCtx(ctx, []string{h.hash}, true); err != nil {
		return &engine.NetworkError{
			Operation:  "delete_torrents",
			APIMessage: err.Error(),
			Err:        err,
		}
	}

	return nil
}
