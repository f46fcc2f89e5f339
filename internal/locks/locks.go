//go:build !deadlockcheck

// Package locks selects the mutex implementation guarding shared state. The
// default build uses the standard library; building with the deadlockcheck tag
// swaps in sasha-s/go-deadlock so lock-order violations surface during soak
// testing instead of production.
package locks

import "sync"

type Mutex = sync.Mutex

type RWMutex = sync.RWMutex
