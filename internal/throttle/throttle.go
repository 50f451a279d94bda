// Package throttle counts sent notifications per recipient per hour.
//
// The default backend is process-local; deployments running several engine
// instances can swap in the redis backend so all instances share buckets.
package throttle

import (
	"context"
	"time"
)

// Counter tracks per-recipient hourly send counts.
//
// Buckets are lazily created on first increment and superseded on hour
// rollover; they are never explicitly deleted.
type Counter interface {
	// Count returns the current bucket count for the recipient at time t.
	Count(ctx context.Context, recipientID string, t time.Time) (int, error)
	// Increment bumps the recipient's current bucket and returns the new
	// count. A rollover to a new hour bucket resets the count first.
	Increment(ctx context.Context, recipientID string, t time.Time) (int, error)
}

const bucketHourFormat = "2006010215"

// BucketKey returns "<recipient>:<YYYYMMDDHH>" for time t.
func BucketKey(recipientID string, t time.Time) string {
	return recipientID + ":" + t.Format(bucketHourFormat)
}

// hourBucket is the time portion only.
func hourBucket(t time.Time) string {
	return t.Format(bucketHourFormat)
}
