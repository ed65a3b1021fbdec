// Package storage provides content-addressed storage for registry snapshots.
//
// Content is identified by the SHA-256 hash of its bytes and kept in a
// namespace per content type (snapshot, notifications). Backends are created
// from location URIs:
//
//	file:///var/lib/sidechain-registry
//	s3://ACCESS:SECRET@bucket/prefix?region=eu-central-1&endpoint=http://minio:9000&path_style=true
//	ipfs://127.0.0.1:5001/sidechain-registry?timeout=30s
//	vault://vault.internal:8200/secret/sidechain-registry?token_env=VAULT_TOKEN
//
// Several locations can be combined with StorageBackendFactory.CreateMultiBackend.
// The resulting MultiStorageBackend writes to every available backend, requires
// a minimum number of successful replicas and reads from the first backend
// holding content whose hash matches the requested id.
package storage
