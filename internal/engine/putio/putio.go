// Package putio provides a torrent adapter backed by a Put.io seedbox. The
// actual peer traffic happens on Put.io's side; the adapter only drives their
// transfer API.
package putio

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/italolelis/torrent_registry/internal/engine"
	"github.com/italolelis/torrent_registry/internal/logctx"
	putio "github.com/putdotio/go-putio"
	"golang.org/x/oauth2"
)

type Adapter struct {
	putioClient *putio.Client
}

func NewAdapter(token string) *Adapter {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(context.Background(), tokenSource)

	return &Adapter{putioClient: putio.NewClient(oauthClient)}
}

func (a *Adapter) Name() string { return "putio" }

// Add creates a Put.io transfer for the magnet inside a folder named after
// the download directory, creating the folder when it does not exist yet.
func (a *Adapter) Add(ctx context.Context, magnet string, downloadPath string) (engine.Handle, error) {
	folder := filepath.Base(downloadPath)

	parentID, err := a.resolveFolder(ctx, folder)
	if err != nil {
		return nil, err
	}

	transfer, err := a.putioClient.Transfers.Add(ctx, magnet, parentID, "")
	if err != nil {
		return nil, &engine.NetworkError{
			Operation:  "add_transfer",
			APIMessage: err.Error(),
			Err:        err,
		}
	}

	logctx.LoggerFromContext(ctx).Debug("put.io transfer created",
		"transfer_id", transfer.ID, "name", transfer.Name, "folder", folder)

	return &handle{client: a.putioClient, transferID: transfer.ID, name: transfer.Name}, nil
}

func (a *Adapter) resolveFolder(ctx context.Context, folder string) (int64, error) {
	children, _, err := a.putioClient.Files.List(ctx, 0)
	if err != nil {
		return 0, &engine.NetworkError{
			Operation:  "list_folders",
			APIMessage: err.Error(),
			Err:        err,
		}
	}

	for _, f := range children {
		if f.IsDir() && f.Name == folder {
			return f.ID, nil
		}
	}

	created, err := a.putioClient.Files.CreateFolder(ctx, folder, 0)
	if err != nil {
		return 0, &engine.NetworkError{
			Operation:  "create_folder",
			APIMessage: err.Error(),
			Err:        err,
		}
	}

	return created.ID, nil
}

type handle struct {
	client     *putio.Client
	transferID int64
	name       string
}

func (h *handle) Name() string {
	return h.name
}

// Files lists the transfer's files. While Put.io is still fetching metadata
// the transfer has no file tree yet and the list is empty.
func (h *handle) Files() []engine.File {
	ctx := context.Background()

	transfer, err := h.client.Transfers.Get(ctx, h.transferID)
	if err != nil || transfer.FileID == 0 {
		return nil
	}

	root, err := h.client.Files.Get(ctx, transfer.FileID)
	if err != nil {
		return nil
	}

	var files []engine.File

	h.walkFiles(ctx, root, "", &files)

	return files
}

func (h *handle) walkFiles(ctx context.Context, f putio.File, prefix string, out *[]engine.File) {
	if !f.IsDir() {
		*out = append(*out, engine.File{
			Path: path.Join(prefix, f.Name),
			Size: f.Size,
		})

		return
	}

	children, _, err := h.client.Files.List(ctx, f.ID)
	if err != nil {
		return
	}

	for _, child := range children {
		h.walkFiles(ctx, child, path.Join(prefix, f.Name), out)
	}
}

// Remove cancels the transfer and deletes its remote data.
func (h *handle) Remove(ctx context.Context) error {
	transfer, err := h.client.Transfers.Get(ctx, h.transferID)
	if err != nil {
		return &engine.NetworkError{
			Operation:  "get_transfer",
			APIMessage: err.Error(),
			Err:        err,
		}
	}

	if err := h.client.Transfers.Cancel(ctx, h.transferID); err != nil {
		return &engine.NetworkError{
			Operation:  "cancel_transfer",
			APIMessage: err.Error(),
			Err:        err,
		}
	}

	if transfer.FileID != 0 {
		if err := h.client.Files.Delete(ctx, transfer.FileID); err != nil {
			return fmt.Errorf("failed to delete transfer data: %w", err)
		}
	}

	return nil
}
