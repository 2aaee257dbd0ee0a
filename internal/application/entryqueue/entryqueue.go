// Package entryqueue estimates how long a validator waits in the activation
// queue given the current active set size.
package entryqueue

import (
	"errors"
	"fmt"
	"time"
)

const (
	churnLimitQuotient      = 65536
	minPerEpochChurnLimit   = 4
	maxPerEpochActivationCh = 8
)

var ErrBucketOutOfRange = errors.New("active validator count beyond highest churn bucket")

// Bucket is a range of active set sizes [Lower, Upper) sharing the same churn.
type Bucket struct {
	Lower uint64
	Upper uint64
	Churn uint64
}

// buckets covers every active set size up to 2^24 validators.
var buckets = []Bucket{
	{Lower: 0, Upper: 5 * churnLimitQuotient, Churn: 4},
	{Lower: 5 * churnLimitQuotient, Upper: 6 * churnLimitQuotient, Churn: 5},
	{Lower: 6 * churnLimitQuotient, Upper: 7 * churnLimitQuotient, Churn: 6},
	{Lower: 7 * churnLimitQuotient, Upper: 8 * churnLimitQuotient, Churn: 7},
	{Lower: 8 * churnLimitQuotient, Upper: 1 << 24, Churn: 8},
}

// Churn returns how many validators can be activated per epoch with n active validators.
func Churn(n uint64) uint64 {
	return min(maxPerEpochActivationCh, max(minPerEpochChurnLimit, n/churnLimitQuotient))
}

// BucketFor returns the index of the bucket holding n active validators.
func BucketFor(n uint64) (int, error) {
	for i, b := range buckets {
		if n >= b.Lower && n < b.Upper {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %d", ErrBucketOutOfRange, n)
}

// Buckets returns a copy of the churn buckets.
func Buckets() []Bucket {
	return append([]Bucket(nil), buckets...)
}

// EstimateDuration returns the time a validator joining the queue now waits,
// with pending validators ahead of it and active validators already in the set.
// The active set grows as the queue drains, so the walk crosses buckets.
func EstimateDuration(active, pending uint64, epochDuration time.Duration) (time.Duration, error) {
	var epochs uint64
	for pending > 0 {
		i, err := BucketFor(active)
		if err != nil {
			return 0, err
		}
		b := buckets[i]
		room := b.Upper - active
		if pending <= room {
			epochs += ceilDiv(pending, b.Churn)
			break
		}
		epochs += ceilDiv(room, b.Churn)
		active += room
		pending -= room
	}
	return time.Duration(epochs) * epochDuration, nil
}

func ceilDiv(a, b uint64) uint64 {
	return (a + b - 1) / b
}
