// Package constants holds the status values, policy limits and defaults
// shared across the pipeline.
package constants

import "time"

// Video statuses
const (
	VideoStatusUploading  = "uploading"
	VideoStatusProcessing = "processing"
	VideoStatusPublished  = "published"
	VideoStatusFailed     = "failed"
	VideoStatusDeleted    = "deleted"
)

// Encoding job statuses
const (
	JobStatusPending   = "pending"
	JobStatusEncoding  = "encoding"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Webhook report statuses sent by encoders
const (
	WebhookStatusComplete = "complete"
	WebhookStatusFailed   = "failed"
)

// Dispatch policy. MaxDispatchAttempts is compared against the attempt
// count read before the failed attempt is recorded.
const (
	MaxDispatchAttempts  = 3
	MaxAttemptsExceeded  = "max attempts exceeded"
	DefaultWebhookError  = "encoder reported failure"
	PermlinkLength       = 8
	PermlinkAlphabet     = "0123456789abcdefghijklmnopqrstuvwxyz"
	MaxPermlinkRetries   = 5
	MaxEncodingProgress  = 100
	DefaultJobListLimit  = 50
	MaxJobListLimit      = 500
	DefaultVideoListSize = 20
)

// Default values
const (
	DefaultPollInterval    = 30 * time.Second
	DefaultBatchSize       = 5
	DefaultRequestTimeout  = 30 * time.Second
	DefaultPinTimeout      = 2 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRateLimit       = 100
	DefaultNATSSubject     = "uploads.finished"
	DefaultNATSDurable     = "pipeline-master"
	DefaultServerPort      = 8080
)

// Record store drivers
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
	DriverPebble = "pebble"
)

// Pin backend types
const (
	PinBackendIPFS = "ipfs"
	PinBackendS3   = "s3"
	PinBackendGCS  = "gcs"
	PinBackendSFTP = "sftp"
)

// Log levels
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log formats
const (
	LogFormatJSON = "json"
	LogFormatText = "text"
)

// HTTP headers
const (
	HeaderAPIKey        = "X-API-Key"
	HeaderCorrelationID = "X-Correlation-ID"
)
