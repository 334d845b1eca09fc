package registry

import (
	"mime"
	"path/filepath"
	"strings"
)

// Media extensions common in torrents that the stdlib table does not ship.
// Registered once; mime.AddExtensionType is safe for concurrent lookups after.
func init() {
	for ext, typ := range map[string]string{
		".avi":  "video/x-msvideo",
		".mkv":  "video/x-matroska",
		".mov":  "video/quicktime",
		".mp4":  "video/mp4",
		".m4v":  "video/mp4",
		".wmv":  "video/x-ms-wmv",
		".flv":  "video/x-flv",
		".webm": "video/webm",
		".ts":   "video/mp2t",
		".mp3":  "audio/mpeg",
		".flac": "audio/flac",
		".srt":  "application/x-subrip",
		".vtt":  "text/vtt",
	} {
		_ = mime.AddExtensionType(ext, typ)
	}
}

// typeByName derives the MIME type for a file name from its extension.
// Unknown extensions yield an empty string, never an error.
func typeByName(name string) string {
	t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if t == "" {
		return ""
	}

	// Strip parameters such as "; charset=utf-8".
	mediaType, _, err := mime.ParseMediaType(t)
	if err != nil {
		return ""
	}

	return mediaType
}
