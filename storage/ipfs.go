package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/sidechain-registry/interfaces"
)

// IPFSBackend stores content in the mutable file system (MFS) of an IPFS node,
// at /<root>/<content type>/<content id>. Files written through MFS are pinned
// by the node for as long as they are reachable from the MFS root.
type IPFSBackend struct {
	shell       *shell.Shell
	apiAddr     string
	root        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend connects to the IPFS HTTP API at host:port.
func NewIPFSBackend(host, port, root string, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	if log == nil {
		log = slog.Default()
	}
	if host == "" {
		return nil, fmt.Errorf("%w: empty IPFS host", interfaces.ErrInvalidLocationURI)
	}
	root = "/" + strings.Trim(root, "/")
	if root == "/" {
		root = "/sidechain-registry"
	}

	apiAddr := fmt.Sprintf("%s:%s", host, port)
	sh := shell.NewShellWithClient(apiAddr, &http.Client{Timeout: timeout})

	return &IPFSBackend{
		shell:       sh,
		apiAddr:     apiAddr,
		root:        root,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s?timeout=%s", apiAddr, root, timeout),
	}, nil
}

// Fetch reads content from MFS. Returns ErrContentNotFound if the file does not exist.
func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	start := time.Now()
	filePath := b.mfsPath(id, contentType)

	reader, err := b.shell.FilesRead(ctx, filePath)
	if err != nil {
		if strings.Contains(err.Error(), "does not exist") {
			b.log.Debug("Content not found in IPFS",
				slog.String("path", filePath),
				slog.Duration("duration", time.Since(start)))
			return nil, fmt.Errorf("%w: %s", interfaces.ErrContentNotFound, filePath)
		}

		b.log.Error("Failed to read from IPFS",
			slog.String("path", filePath),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Fetched content from IPFS",
		slog.String("path", filePath),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// Store writes data to MFS, creating parent directories as needed.
func (b *IPFSBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)
	filePath := b.mfsPath(id, contentType)

	err := b.shell.FilesWrite(ctx, filePath, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return id, fmt.Errorf("failed to write data to IPFS: %w", err)
	}

	b.log.Debug("Stored content in IPFS",
		slog.String("path", filePath),
		slog.String("content_id", id.String()))
	return id, nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s", b.apiAddr)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) mfsPath(id interfaces.ContentID, contentType interfaces.ContentType) string {
	return path.Join(b.root, contentType.String(), id.String())
}
