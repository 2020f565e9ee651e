// Package simple contains the permissive fetch policy used when rate limiting is off.
package simple

import "context"

// Policy lets every fetch through immediately.
type Policy struct{}

// New creates a new Policy.
func New() *Policy {
	return &Policy{}
}

// Wait returns at once unless ctx is already done.
func (Policy) Wait(ctx context.Context, _ string) error {
	return ctx.Err()
}
