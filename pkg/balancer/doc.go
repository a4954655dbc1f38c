// Package balancer selects a worker for each dispatched task across 8
// selection strategies (round robin, least connections, weighted, random,
// adaptive, load aware, response-time aware, resource aware), tracks
// per-worker health and performance via an EWMA response-time estimate, and
// periodically tunes the active strategy and expires stale workers.
package balancer
