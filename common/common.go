// Package common holds process-wide helpers shared by the binaries.
package common

var (
	// Version is set at build time with -ldflags "-X github.com/ruteri/sidechain-registry/common.Version=..."
	Version = "dev"

	// PackageName is used as the metrics namespace and the default log service tag.
	PackageName = "sidechain-registry"
)
