// Package ratelimit admits compile requests through a token bucket.
//
// The limiter is global: every transport shares one bucket, refilled at the
// configured rate per second up to the configured burst.
package ratelimit
