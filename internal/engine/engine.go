package engine

import (
	"context"
)

// File describes a single file inside a torrent, as reported by an adapter.
type File struct {
	Path string
	Size int64
}

// Handle is an adapter-native torrent. It carries the metadata known to the
// engine and the capability to stop the download and release its resources.
type Handle interface {
	Name() string
	Files() []File
	Remove(ctx context.Context) error
}

// Adapter starts torrent downloads on a concrete engine. Implementations
// exist for the embedded native engine, Put.io and qBittorrent.
type Adapter interface {
	Add(ctx context.Context, magnet string, path string) (Handle, error)
}
