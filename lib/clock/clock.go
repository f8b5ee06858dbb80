// Copyright 2026 The Archivemount Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts time.Now for testability. Production code injects
// Real(); tests inject Fake() to control the current time
// deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}
