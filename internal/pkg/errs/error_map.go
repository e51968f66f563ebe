/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format.", Status: http.StatusBadRequest},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Channel and Messaging Business Logic Errors
	ErrChannelNotFound:       {Code: ErrChannelNotFound, Message: "Channel not found.", Status: http.StatusNotFound},
	ErrMessageNotFound:       {Code: ErrMessageNotFound, Message: "Message not found.", Status: http.StatusNotFound},
	ErrForbidden:             {Code: ErrForbidden, Message: "You are not a member of this channel.", Status: http.StatusForbidden},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long.", Status: http.StatusBadRequest},
	ErrEventUnsupported:      {Code: ErrEventUnsupported, Message: "Unsupported event type.", Status: http.StatusBadRequest},
	ErrEventPayloadInvalid:   {Code: ErrEventPayloadInvalid, Message: "Invalid event payload.", Status: http.StatusBadRequest},

	// 3xxx: Session and Security Errors
	ErrAuthMissing:        {Code: ErrAuthMissing, Message: "Sign-in credential is missing.", Status: http.StatusUnauthorized},
	ErrAuthMalformed:      {Code: ErrAuthMalformed, Message: "Sign-in credential is invalid.", Status: http.StatusUnauthorized},
	ErrAuthExpired:        {Code: ErrAuthExpired, Message: "Session expired. Please sign in again.", Status: http.StatusUnauthorized},
	ErrAuthUnknownSubject: {Code: ErrAuthUnknownSubject, Message: "Account not found.", Status: http.StatusUnauthorized},
	ErrUnauthorized:       {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},

	// 5xxx: Internal System Errors
	ErrUnknown:            {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrPersistenceFailure: {Code: ErrPersistenceFailure, Message: "Could not save your change. Please try again.", Status: http.StatusServiceUnavailable},
	ErrCacheUnavailable:   {Code: ErrCacheUnavailable, Message: "Service temporarily degraded.", Status: http.StatusServiceUnavailable},
}
