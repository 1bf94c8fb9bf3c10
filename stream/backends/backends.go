// Package backends imports all built-in stream log backends for
// auto-registration. Import this package to have every backend registered
// with the default registry.
package backends

import (
	// Import all backends for side-effect registration
	_ "github.com/platformkit/eventstream/stream/memory"
	_ "github.com/platformkit/eventstream/stream/redis"
	_ "github.com/platformkit/eventstream/stream/sqlite"
)
