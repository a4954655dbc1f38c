// Package types defines the data model shared across the scheduler, load
// balancer, executor and container manager: requests, scheduled tasks,
// worker state, plugin descriptors/images, containers and execution
// records. Nothing in this package performs I/O or holds locks; it is pure
// data, mutated only by the packages documented as owning each type.
package types
