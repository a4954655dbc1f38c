// Package learner implements the Learned Selector named in SPEC_FULL.md
// §4.E: a linear scorer over a 10-feature worker vector, fit online by SGD
// against a bounded ring buffer of recorded scheduling decisions. Disabled
// by default; the Balancer falls back to its configured strategy whenever
// Predict reports it hasn't seen enough training data yet.
package learner
