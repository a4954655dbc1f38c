// Package executor runs one compute plugin invocation end to end: stage
// input, create a container, poll for its output artifact, parse it, and
// tear the container and workspace down. It has no concurrency limit of its
// own — pkg/scheduler enforces max_concurrent per plugin before calling in.
package executor
