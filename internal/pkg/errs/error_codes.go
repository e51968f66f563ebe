/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients, including
the error events pushed over live connections.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Channel and Messaging Business Logic Errors
const (
	// ErrChannelNotFound indicates that the targeted channel does not exist.
	ErrChannelNotFound = 2101

	// ErrMessageNotFound indicates that the targeted message no longer exists.
	ErrMessageNotFound = 2102

	// ErrForbidden indicates the authenticated user is not a member of the target channel.
	ErrForbidden = 2103

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrEventUnsupported indicates the client sent an event type the server does not handle.
	ErrEventUnsupported = 2202

	// ErrEventPayloadInvalid indicates the client sent an event with a malformed payload.
	ErrEventPayloadInvalid = 2203
)

// 3xxx: Session and Security Errors
const (
	// ErrAuthMissing indicates no bearer credential was supplied at handshake time.
	ErrAuthMissing = 3001

	// ErrAuthMalformed indicates the supplied credential could not be parsed or verified.
	ErrAuthMalformed = 3002

	// ErrAuthExpired indicates the supplied credential has expired.
	ErrAuthExpired = 3003

	// ErrAuthUnknownSubject indicates the credential resolved to a user that no longer exists.
	ErrAuthUnknownSubject = 3004

	// ErrUnauthorized indicates the request requires an authenticated identity.
	ErrUnauthorized = 3005
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrPersistenceFailure indicates the durable store collaborator was unavailable or erroring.
	ErrPersistenceFailure = 5001

	// ErrCacheUnavailable indicates the ephemeral cache collaborator failed; callers degrade, never guess.
	ErrCacheUnavailable = 5002
)
