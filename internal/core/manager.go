// Package core defines the domain contracts shared by the sweeper, the
// pool adapters and the configuration layer. It has no dependencies on
// concrete pool implementations.
package core

import "time"

// ConnectionManager is implemented by a connection pool that can
// release connections on demand. The sweeper borrows it for its whole
// lifetime and never takes ownership.
//
// Both methods must be safe to call concurrently with normal pool use;
// the pool is responsible for synchronising eviction with checkout.
type ConnectionManager interface {
	// CloseExpiredConnections closes connections the pool already
	// considers expired (e.g. past their keep-alive deadline).
	CloseExpiredConnections()
	// CloseIdleConnections closes connections that have been idle for
	// longer than maxIdleTime.
	CloseIdleConnections(maxIdleTime time.Duration)
}
