// Package docker wraps the Docker Engine API for svcboot.
//
// This package handles:
//   - Docker client initialization with automatic socket detection
//     (Linux, macOS, Windows)
//   - the svcboot label schema recorded on images and containers
//   - image builds from a source tree and a rendered Dockerfile
//   - listing managed images and running one as a container
//
// The package uses github.com/docker/docker/client as the underlying
// SDK, with API version negotiation enabled.
package docker
