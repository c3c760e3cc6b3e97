package yalogger

import "errors"

// Level mirrors logrus' level ordering so that NewBaseLogger can convert a
// Config.Level directly into a logrus.Level without a lookup table.
type Level uint8

const (
	PanicLevel Level = iota
	FatalLevel
	ErrorLevel
	WarnLevel
	InfoLevel
	DebugLevel
	TraceLevel
)

// BaseLoggerType selects which concrete BaseLogger NewBaseLogger builds.
type BaseLoggerType uint8

const (
	Logrus BaseLoggerType = iota
)

const (
	KeyRequestID       = "request_id"
	KeySystemRequestID = "system_request_id"
	KeyUserID          = "user_id"
)

// ErrInvalidLogLevel is returned by Level.Unmarshal/UnmarshalText when the
// input text does not match any known level name.
var ErrInvalidLogLevel = errors.New("yalogger: invalid log level")
