package sqlite

import (
	"database/sql"
	"time"

	"github.com/italolelis/torrent_registry/internal/storage"
)

// TorrentRepository implements storage.TorrentRepository and keeps the
// registry index in SQLite so torrents survive a restart.
type TorrentRepository struct {
	db *sql.DB
}

func NewTorrentRepository(db *sql.DB) *TorrentRepository {
	return &TorrentRepository{db: db}
}

func (r *TorrentRepository) TrackTorrent(infoHash, link string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.db.Exec(
		`INSERT INTO torrents (info_hash, link, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(info_hash) DO UPDATE SET updated_at = excluded.updated_at`,
		infoHash, link, now, now,
	)

	return err
}

// TouchTorrent refreshes updated_at for a torrent that was re-added.
func (r *TorrentRepository) TouchTorrent(infoHash string) error {
	_, err := r.db.Exec(
		`UPDATE torrents SET updated_at = ? WHERE info_hash = ?`,
		time.Now().UTC().Format(time.RFC3339), infoHash,
	)

	return err
}

func (r *TorrentRepository) ForgetTorrent(infoHash string) error {
	_, err := r.db.Exec(`DELETE FROM torrents WHERE info_hash = ?`, infoHash)

	return err
}

func (r *TorrentRepository) GetTorrents() ([]storage.TorrentRecord, error) {
	rows, err := r.db.Query(`SELECT info_hash, link, created_at, updated_at FROM torrents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var torrents []storage.TorrentRecord

	for rows.Next() {
		var record storage.TorrentRecord
		if err := rows.Scan(&record.InfoHash, &record.Link, &record.CreatedAt, &record.UpdatedAt); err != nil {
			return nil, err
		}

		torrents = append(torrents, record)
	}

	return torrents, rows.Err()
}
