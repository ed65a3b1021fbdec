package storage

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ruteri/sidechain-registry/interfaces"
)

// StorageBackendFactory creates storage backends from location URIs.
type StorageBackendFactory struct {
	log         *slog.Logger
	minReplicas int
	getenv      func(string) string
}

// NewStorageBackendFactory creates a factory. Multi backends it creates require
// minReplicas successful writes per Store.
func NewStorageBackendFactory(logger *slog.Logger, minReplicas int) *StorageBackendFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &StorageBackendFactory{
		log:         logger,
		minReplicas: minReplicas,
		getenv:      os.Getenv,
	}
}

var _ interfaces.StorageBackendFactory = (*StorageBackendFactory)(nil)

// StorageBackendFor creates a storage backend from a location URI.
//
// Supported schemes:
//   - file:///absolute/path or file://./relative/path
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=http://minio:9000&path_style=true
//   - ipfs://host:port/root?timeout=30s
//   - vault://host:port/mount/path?tls=true&token_env=VAULT_TOKEN
func (sf *StorageBackendFactory) StorageBackendFor(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	switch {
	case location.IsFile():
		return sf.createFileBackend(location)
	case location.IsS3():
		return sf.createS3Backend(location)
	case location.IsIPFS():
		return sf.createIPFSBackend(location)
	case location.IsVault():
		return sf.createVaultBackend(location)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme %q", interfaces.ErrInvalidLocationURI, location.Scheme)
	}
}

// CreateMultiBackend creates a backend replicating to every location. Locations
// that fail to produce a backend are skipped with a warning.
func (sf *StorageBackendFactory) CreateMultiBackend(locations []interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locations))

	for _, location := range locations {
		backend, err := sf.StorageBackendFor(location)
		if err != nil {
			sf.log.Warn("Failed to create storage backend",
				"err", err,
				slog.String("location", redactLocation(location)))
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("%w: no valid storage backends created", interfaces.ErrInvalidLocationURI)
	}
	if len(backends) == 1 && sf.minReplicas <= 1 {
		return backends[0], nil
	}

	return NewMultiStorageBackend(backends, sf.minReplicas, sf.log), nil
}

// ParseLocations parses raw URIs, failing on the first invalid one.
func ParseLocations(uris []string) ([]interfaces.StorageBackendLocation, error) {
	locations := make([]interfaces.StorageBackendLocation, 0, len(uris))
	for _, uri := range uris {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
		}
		locations = append(locations, location)
	}
	return locations, nil
}

func (sf *StorageBackendFactory) createFileBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating file backend", slog.String("uri", location.String()))

	path := location.Path
	if location.Host != "" {
		path = location.Host + "/" + strings.TrimPrefix(path, "/")
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path in file URI %s", interfaces.ErrInvalidLocationURI, location)
	}

	return NewFileBackend(path, sf.log)
}

func (sf *StorageBackendFactory) createS3Backend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating S3 backend", slog.String("uri", redactLocation(location)))

	cfg := S3Config{
		Bucket:    location.Host,
		Prefix:    strings.TrimPrefix(location.Path, "/"),
		Region:    location.GetParam("region"),
		Endpoint:  location.GetParam("endpoint"),
		PathStyle: location.GetParamBool("path_style"),
	}
	if location.Auth != "" {
		accessKey, secretKey, _ := strings.Cut(location.Auth, ":")
		cfg.AccessKey = accessKey
		cfg.SecretKey = secretKey
	}

	return NewS3Backend(cfg, sf.log)
}

func (sf *StorageBackendFactory) createIPFSBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating IPFS backend", slog.String("uri", location.String()))

	host, port, found := strings.Cut(location.Host, ":")
	if !found || port == "" {
		port = "5001"
	}

	timeout := 30 * time.Second
	if raw := location.GetParam("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid IPFS timeout %q", interfaces.ErrInvalidLocationURI, raw)
		}
		timeout = parsed
	}

	return NewIPFSBackend(host, port, location.Path, timeout, sf.log)
}

func (sf *StorageBackendFactory) createVaultBackend(location interfaces.StorageBackendLocation) (interfaces.StorageBackend, error) {
	sf.log.Debug("Creating Vault backend", slog.String("uri", location.String()))

	if location.Host == "" {
		return nil, fmt.Errorf("%w: empty Vault address", interfaces.ErrInvalidLocationURI)
	}
	mountPath, dataPath, _ := strings.Cut(strings.TrimPrefix(location.Path, "/"), "/")
	if mountPath == "" {
		mountPath = "secret"
	}

	scheme := "https"
	if raw := location.GetParam("tls"); raw != "" && !location.GetParamBool("tls") {
		scheme = "http"
	}

	tokenEnv := location.GetParam("token_env")
	if tokenEnv == "" {
		tokenEnv = "VAULT_TOKEN"
	}

	return NewVaultBackend(scheme+"://"+location.Host, mountPath, dataPath, sf.getenv(tokenEnv), sf.log)
}

func redactLocation(location interfaces.StorageBackendLocation) string {
	if location.Auth == "" {
		return location.String()
	}
	return strings.Replace(location.String(), location.Auth+"@", "***@", 1)
}
