// Package dedup implements the time-windowed admission filter that keeps a logically
// identical submission from being processed twice.
//
// Expiries live in a min-heap swept by a periodic tick instead of one timer per key.
// The cache does not store payloads, only the fact of a prior admission.
package dedup
