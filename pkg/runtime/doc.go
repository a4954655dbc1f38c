// Package runtime implements the Container Manager: it synthesizes an OCI
// bundle (config.json + rootfs) per container under runtime_dir/<id>/ and
// drives a low-level OCI runtime binary (runc-compatible) against it via
// subprocess calls, rather than delegating to a higher-level client that
// owns image pulls and snapshots. The bundle is the interop boundary the
// rest of the container ecosystem (containerd, Docker) also targets; this
// package just constructs and drives it directly so the on-disk config.json
// stays exactly what the caller asked for.
package runtime
