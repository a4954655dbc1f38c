// Package config loads edgesched's YAML configuration file and projects it
// into the per-component config structs pkg/scheduler, pkg/balancer,
// pkg/runtime, pkg/executor and pkg/log each already define.
package config
