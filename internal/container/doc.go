// SPDX-License-Identifier: MPL-2.0

// Package container drives Docker and Podman through their CLIs.
//
// The Engine interface covers image builds plus the create, start, exec,
// inspect, logs, stats and kill operations used to run one long-lived
// microservice container. DockerEngine and PodmanEngine both embed
// BaseCLIEngine, which builds the shared command lines.
//
// The package also hosts the host port allocator used to publish the
// ports a microservice exposes.
package container
