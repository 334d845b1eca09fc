package parse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/zeebo/bencode"
)

const maxTorrentSize = 10 * 1024 * 1024 // 10MB max torrent file size

// InvalidLinkError represents a malformed or unresolvable torrent link.
// This is a caller-facing, non-retryable input validation failure.
type InvalidLinkError struct {
	Link   string // The link that failed to parse
	Reason string // Human-readable explanation of why the link is invalid
	Err    error  // Underlying error, if any
}

func (e *InvalidLinkError) Error() string {
	return fmt.Sprintf("invalid torrent link %q: %s", e.Link, e.Reason)
}

func (e *InvalidLinkError) Unwrap() error {
	return e.Err
}

// FileInfo is a file entry known from torrent metainfo.
type FileInfo struct {
	Path string
	Size int64
}

// Descriptor is the structured form of a torrent link. For bare magnet links
// the file list is empty until an engine fetches the metadata.
type Descriptor struct {
	Hash     metainfo.Hash
	Name     string
	Trackers []string
	Files    []FileInfo
}

// InfoHash returns the hex-encoded info hash identifying the torrent.
func (d *Descriptor) InfoHash() string {
	return d.Hash.HexString()
}

// MagnetURI builds the canonical magnet URI for the descriptor, merging the
// trackers found in the link with the provided extra trackers.
func (d *Descriptor) MagnetURI(extraTrackers []string) string {
	m := metainfo.Magnet{
		InfoHash:    d.Hash,
		DisplayName: d.Name,
		Trackers:    d.Trackers,
	}

	seen := make(map[string]struct{}, len(d.Trackers))
	for _, tr := range d.Trackers {
		seen[tr] = struct{}{}
	}

	for _, tr := range extraTrackers {
		if _, ok := seen[tr]; ok {
			continue
		}

		m.Trackers = append(m.Trackers, tr)
	}

	return m.String()
}

// Parser resolves torrent links into descriptors. Links may be magnet URIs,
// HTTP(S) URLs pointing at .torrent files, or local .torrent paths.
type Parser struct {
	httpClient *http.Client
}

func NewParser(httpClient *http.Client) *Parser {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Parser{httpClient: httpClient}
}

// Parse resolves a link into a Descriptor. Any failure is reported as an
// *InvalidLinkError carrying the offending link.
func (p *Parser) Parse(ctx context.Context, link string) (*Descriptor, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, &InvalidLinkError{Link: link, Reason: "empty link"}
	}

	switch {
	case strings.HasPrefix(link, "magnet:"):
		return parseMagnet(link)
	case strings.HasPrefix(link, "http://"), strings.HasPrefix(link, "https://"):
		raw, err := p.fetchTorrent(ctx, link)
		if err != nil {
			return nil, &InvalidLinkError{Link: link, Reason: "failed to fetch torrent file", Err: err}
		}

		return parseMetaInfo(link, raw)
	default:
		raw, err := os.ReadFile(link)
		if err != nil {
			return nil, &InvalidLinkError{Link: link, Reason: "failed to read torrent file", Err: err}
		}

		return parseMetaInfo(link, raw)
	}
}

func parseMagnet(link string) (*Descriptor, error) {
	m, err := metainfo.ParseMagnetUri(link)
	if err != nil {
		return nil, &InvalidLinkError{Link: link, Reason: "malformed magnet URI", Err: err}
	}

	return &Descriptor{
		Hash:     m.InfoHash,
		Name:     m.DisplayName,
		Trackers: m.Trackers,
	}, nil
}

func parseMetaInfo(link string, raw []byte) (*Descriptor, error) {
	if err := validateBencodeStructure(raw); err != nil {
		return nil, &InvalidLinkError{Link: link, Reason: err.Error(), Err: err}
	}

	mi, err := metainfo.Load(bytes.NewReader(raw))
	if err != nil {
		return nil, &InvalidLinkError{Link: link, Reason: "malformed torrent metainfo", Err: err}
	}

	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, &InvalidLinkError{Link: link, Reason: "malformed torrent info dictionary", Err: err}
	}

	d := &Descriptor{
		Hash: mi.HashInfoBytes(),
		Name: info.Name,
	}

	for _, tier := range mi.AnnounceList {
		d.Trackers = append(d.Trackers, tier...)
	}

	if len(d.Trackers) == 0 && mi.Announce != "" {
		d.Trackers = []string{mi.Announce}
	}

	for _, f := range info.UpvertedFiles() {
		d.Files = append(d.Files, FileInfo{
			Path: f.DisplayPath(&info),
			Size: f.Length,
		})
	}

	return d, nil
}

func (p *Parser) fetchTorrent(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch torrent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d fetching torrent", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTorrentSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read torrent body: %w", err)
	}

	if len(raw) > maxTorrentSize {
		return nil, fmt.Errorf("torrent file exceeds maximum size of %d bytes", maxTorrentSize)
	}

	return raw, nil
}

// validateBencodeStructure validates that data is a proper bencode torrent
// structure before handing it to the metainfo decoder.
func validateBencodeStructure(data []byte) error {
	var torrentData interface{}

	if err := bencode.DecodeBytes(data, &torrentData); err != nil {
		return fmt.Errorf("invalid bencode structure: %w", err)
	}

	dict, ok := torrentData.(map[string]interface{})
	if !ok {
		return fmt.Errorf("bencode root must be a dictionary")
	}

	if _, hasInfo := dict["info"]; !hasInfo {
		return fmt.Errorf("bencode missing required 'info' dictionary")
	}

	return nil
}
