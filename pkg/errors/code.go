package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 13000-13099: Match lifecycle errors
// 13100-13199: Sandbox & artifact errors
// 13200-13299: Protocol & rules errors
// 13300-13399: Bot & rating errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError     ErrorCode = 10200
	CacheMiss      ErrorCode = 10201
	CacheSetFailed ErrorCode = 10202

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Messaging errors (10400-10499)
	PublishFailed ErrorCode = 10400

	// ========== Arena Errors (13000-13999) ==========

	// Match lifecycle (13000-13099)
	MatchNotFound        ErrorCode = 13000
	MatchAlreadyFinished ErrorCode = 13001
	NoPairingAvailable   ErrorCode = 13002
	ArenaBusy            ErrorCode = 13003
	MatchAborted         ErrorCode = 13004

	// Sandbox & artifacts (13100-13199)
	SandboxError       ErrorCode = 13100
	SandboxStartFailed ErrorCode = 13101
	ArtifactNotFound   ErrorCode = 13102
	ArtifactCorrupted  ErrorCode = 13103
	WorkspaceError     ErrorCode = 13104

	// Protocol & rules (13200-13299)
	ProtocolViolation ErrorCode = 13200
	IllegalMove       ErrorCode = 13201
	InvalidPosition   ErrorCode = 13202

	// Bots & rating (13300-13399)
	BotNotFound   ErrorCode = 13300
	BotPaused     ErrorCode = 13301
	RatingMissing ErrorCode = 13302
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError:     "Cache operation failed",
	CacheMiss:      "Cache miss",
	CacheSetFailed: "Failed to set cache",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Messaging
	PublishFailed: "Failed to publish message",

	// Match
	MatchNotFound:        "Match not found",
	MatchAlreadyFinished: "Match has already finished",
	NoPairingAvailable:   "No pairing available",
	ArenaBusy:            "All match slots are busy, please try again later",
	MatchAborted:         "Match aborted",

	// Sandbox
	SandboxError:       "Sandbox error",
	SandboxStartFailed: "Failed to start sandboxed process",
	ArtifactNotFound:   "Artifact not found",
	ArtifactCorrupted:  "Artifact checksum mismatch",
	WorkspaceError:     "Failed to prepare match workspace",

	// Protocol & rules
	ProtocolViolation: "Bot protocol violation",
	IllegalMove:       "Illegal move",
	InvalidPosition:   "Invalid position",

	// Bots & rating
	BotNotFound:   "Bot not found",
	BotPaused:     "Bot is paused",
	RatingMissing: "Bot has no rating events",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound, c == MatchNotFound, c == BotNotFound, c == RecordNotFound:
		return 404
	case c == ArenaBusy:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c == MatchAlreadyFinished, c == RecordAlreadyExists:
		return 409
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams:
		return 400
	default:
		return 500
	}
}
