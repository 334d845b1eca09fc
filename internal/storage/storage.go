package storage

// TorrentRecord is the persisted index entry for a tracked torrent.
type TorrentRecord struct {
	InfoHash  string
	Link      string
	CreatedAt string
	UpdatedAt string
}

// TorrentReadRepository lists the persisted registry index.
type TorrentReadRepository interface {
	GetTorrents() ([]TorrentRecord, error)
}

type TorrentWriteRepository interface {
	TrackTorrent(infoHash, link string) error
	TouchTorrent(infoHash string) error // refresh updated_at on re-add
	ForgetTorrent(infoHash string) error
}

// TorrentRepository combines the read and write sides of the journal.
type TorrentRepository interface {
	TorrentReadRepository
	TorrentWriteRepository
}
