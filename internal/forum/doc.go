// Package forum holds the in-memory question and answer tables.
//
// Records are never deleted. Ids are monotonic and start at 1. Vote totals are owned by
// the vote aggregator; the Votes field of stored records is always zero and is filled
// in by readers.
package forum
