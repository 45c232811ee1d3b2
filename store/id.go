package store

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as a run identifier. ULIDs sort
// by creation time, which keeps run listings in chronological order.
func NewID() string {
	return ulid.Make().String()
}
