// Package sinks implements concrete progress consumers: structured logging,
// Prometheus metrics, the live status tracker, the run history store and a
// message topic publisher.
package sinks
