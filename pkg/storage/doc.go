// Package storage persists Batches and Records in a single bbolt file
// and implements the atomic claim/settle/rec/retry operations the
// worker loops and services depend on.
package storage
