// Package dockerrt implements the container pool's runtime on the Docker
// Engine API.
//
// Containers are created with hard memory, swap, CPU quota and pid limits,
// no network and no new privileges. Exec output is demultiplexed from the
// attached stream into tagged stdout/stderr chunks. Daemon connectivity
// failures are reported as sandbox.ErrRuntimeUnavailable so the pool retries
// them; missing containers are reported as not running.
package dockerrt
