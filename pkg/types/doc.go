// Package types defines the core data structures shared across the
// pipeline: Batch, Record, the nine-value state enum, and the small
// result/report shapes the store and services hand back to callers.
package types
