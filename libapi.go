package eventstream

import (
	runtimepkg "github.com/platformkit/eventstream/internal/runtime"
	configpkg "github.com/platformkit/eventstream/internal/runtime/config"
	dedupkg "github.com/platformkit/eventstream/internal/runtime/dedup"
	envelopepkg "github.com/platformkit/eventstream/internal/runtime/envelope"
	errclasspkg "github.com/platformkit/eventstream/internal/runtime/errclass"
	jsoncodec "github.com/platformkit/eventstream/internal/runtime/jsoncodec"
	loggingpkg "github.com/platformkit/eventstream/internal/runtime/logging"
	streampkg "github.com/platformkit/eventstream/stream"
)

type (
	Config                = configpkg.Config
	ConfigValidationError = configpkg.ConfigValidationError
	Service               = runtimepkg.Service
	ServiceDependencies   = runtimepkg.ServiceDependencies

	Event = envelopepkg.Event
	Meta  = envelopepkg.Meta

	Publisher       = runtimepkg.Publisher
	Consumer        = runtimepkg.Consumer
	ConsumerOptions = runtimepkg.ConsumerOptions
	Handler         = runtimepkg.Handler
	Registry        = runtimepkg.Registry
	Metrics         = runtimepkg.Metrics

	// Error classification
	Classification = errclasspkg.Classification
	Classifier     = errclasspkg.Classifier
	PermanentError = errclasspkg.PermanentError

	// Dedup store
	DedupStore  = dedupkg.Store
	DedupRecord = dedupkg.Record

	// Stream log abstraction
	StreamLog          = streampkg.Log
	StreamEntry        = streampkg.Entry
	StreamConfig       = streampkg.Config
	StreamCapabilities = streampkg.Capabilities

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger
)

const (
	ClassNone      = errclasspkg.ClassNone
	ClassPermanent = errclasspkg.ClassPermanent
	ClassTransient = errclasspkg.ClassTransient
)

var (
	NewService     = runtimepkg.NewService
	ValidateConfig = configpkg.ValidateConfig

	NewEvent    = envelopepkg.New
	NewRegistry = runtimepkg.NewRegistry

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NopLogger            = loggingpkg.Nop

	// Error classification helpers
	Permanent   = errclasspkg.Permanent
	Permanentf  = errclasspkg.Permanentf
	IsPermanent = errclasspkg.IsPermanent
	Classify    = errclasspkg.Classify

	// Dedup store constructors
	NewSQLiteDedupStore   = dedupkg.NewSQLiteStore
	NewPostgresDedupStore = dedupkg.NewPostgresStore

	// Stream backend registry.
	// Import individual backends via: _ "github.com/platformkit/eventstream/stream/sqlite"
	// or all of them via: _ "github.com/platformkit/eventstream/stream/backends"
	DefaultStreamRegistry = streampkg.DefaultRegistry
	RegisterStreamBackend = streampkg.Register
	BuildStreamLog        = streampkg.Build
	GetStreamCapabilities = streampkg.GetCapabilities

	// Stream helpers
	DeadLetterStream    = streampkg.DeadLetterStream
	ErrStoreUnavailable = streampkg.ErrStoreUnavailable

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode
)
