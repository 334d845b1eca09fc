package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/italolelis/torrent_registry/internal/engine"
	"github.com/italolelis/torrent_registry/internal/logctx"
	"github.com/italolelis/torrent_registry/internal/parse"
	"github.com/italolelis/torrent_registry/internal/registry"
)

// TorrentService is the registry surface the handler exposes over HTTP.
type TorrentService interface {
	Torrents() []*registry.Torrent
	Torrent(infoHash string) (*registry.Torrent, bool)
	AddTorrent(ctx context.Context, link string) (*registry.Torrent, error)
	RemoveTorrent(ctx context.Context, infoHash string) error
}

// AddTorrentRequest is the POST /torrents payload.
type AddTorrentRequest struct {
	Link string `json:"link"`
}

type torrentView struct {
	*registry.Torrent
	TotalSize int64  `json:"totalSize"`
	Size      string `json:"size"`
}

func newTorrentView(t *registry.Torrent) torrentView {
	total := t.TotalSize()

	return torrentView{
		Torrent:   t,
		TotalSize: total,
		Size:      humanize.Bytes(uint64(total)),
	}
}

// RegistryHandler serves the torrent registry REST API.
type RegistryHandler struct {
	username string
	password string
	svc      TorrentService
}

// NewRegistryHandler creates a new registry handler. Basic auth is enforced
// only when a username is configured.
func NewRegistryHandler(username, password string, svc TorrentService) *RegistryHandler {
	return &RegistryHandler{
		username: username,
		password: password,
		svc:      svc,
	}
}

func (h *RegistryHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Get("/torrents", h.handleList)
	r.Post("/torrents", h.handleAdd)
	r.Get("/torrents/{infoHash}", h.handleGet)
	r.Delete("/torrents/{infoHash}", h.handleRemove)

	return r
}

func (h *RegistryHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.username == "" {
			next.ServeHTTP(w, r)

			return
		}

		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *RegistryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	torrents := h.svc.Torrents()

	views := make([]torrentView, 0, len(torrents))
	for _, t := range torrents {
		views = append(views, newTorrentView(t))
	}

	writeJSON(w, http.StatusOK, views, logger)
}

func (h *RegistryHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	infoHash := chi.URLParam(r, "infoHash")

	t, ok := h.svc.Torrent(infoHash)
	if !ok {
		http.Error(w, fmt.Sprintf("torrent %s not found", infoHash), http.StatusNotFound)

		return
	}

	writeJSON(w, http.StatusOK, newTorrentView(t), logger)
}

func (h *RegistryHandler) handleAdd(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req AddTorrentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	t, err := h.svc.AddTorrent(r.Context(), req.Link)
	if err != nil {
		var linkErr *parse.InvalidLinkError
		if errors.As(err, &linkErr) {
			logger.Warn("rejected torrent link", "link", linkErr.Link, "err", err)
			http.Error(w, linkErr.Error(), http.StatusBadRequest)

			return
		}

		var netErr *engine.NetworkError
		if errors.As(err, &netErr) {
			logger.Error("adapter unavailable", "err", err)
			http.Error(w, "torrent engine unavailable", http.StatusBadGateway)

			return
		}

		logger.Error("failed to add torrent", "err", err)
		http.Error(w, "failed to add torrent", http.StatusInternalServerError)

		return
	}

	writeJSON(w, http.StatusCreated, newTorrentView(t), logger)
}

func (h *RegistryHandler) handleRemove(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	infoHash := chi.URLParam(r, "infoHash")

	if err := h.svc.RemoveTorrent(r.Context(), infoHash); err != nil {
		var netErr *engine.NetworkError
		if errors.As(err, &netErr) {
			logger.Error("adapter unavailable", "err", err)
			http.Error(w, "torrent engine unavailable", http.StatusBadGateway)

			return
		}

		logger.Error("failed to remove torrent", "info_hash", infoHash, "err", err)
		http.Error(w, "failed to remove torrent", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "err", err)
	}
}
