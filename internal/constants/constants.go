// Package constants defines global constants used throughout syncrelay.
// It includes version information, paths, close codes and default limits.
package constants

// ProjectName is the name of the CLI tool and service.
const ProjectName = "syncrelay"

// EnvPrefix is the prefix used for every environment variable read by syncrelay.
const EnvPrefix = "SYNCRELAY"
