// Copyright 2026 The Archivemount Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of calling
// time.Now directly. In production, Real() provides the standard library
// behavior. In tests, Fake() provides a deterministic clock that advances
// only when Advance is called.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Reporter struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	r := &Reporter{clock: clock.Real()}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	r := &Reporter{clock: c}
//	c.Advance(5 * time.Second) // advance time deterministically
package clock
