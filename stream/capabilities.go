package stream

// Capabilities describes the features supported by a stream log backend.
// Use this to introspect what operations are available at runtime.
type Capabilities struct {
	// SupportsBlockingRead indicates ReadGroup can block server-side instead
	// of polling.
	SupportsBlockingRead bool

	// SupportsNativeTrim indicates the backend trims streams without a
	// table scan.
	SupportsNativeTrim bool

	// Durable indicates entries survive process restarts.
	Durable bool

	// Name is the human-readable name of the backend.
	Name string
}

// Predefined capability sets for the bundled backends.
var (
	SQLiteCapabilities = Capabilities{
		Name:               "sqlite",
		Durable:            true,
		SupportsNativeTrim: true,
	}

	RedisCapabilities = Capabilities{
		Name:                 "redis",
		Durable:              true,
		SupportsBlockingRead: true,
		SupportsNativeTrim:   true,
	}

	MemoryCapabilities = Capabilities{
		Name:                 "memory",
		SupportsBlockingRead: true,
		SupportsNativeTrim:   true,
	}
)
