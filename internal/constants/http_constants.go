// Package constants contains shared HTTP header names and
// common content type strings used across the service.
package constants

// Header names commonly used across the application.
const (
	// HeaderAuthorization is the HTTP "Authorization" header name.
	HeaderAuthorization = "Authorization"

	// HeaderContentType is the HTTP "Content-Type" header name.
	HeaderContentType = "Content-Type"

	// HeaderReferer is the HTTP "Referer" header name.
	HeaderReferer = "Referer"

	// HeaderXRequestID is the custom request ID header name.
	HeaderXRequestID = "X-Request-ID"

	// HeaderRetryAfter is the HTTP "Retry-After" header name.
	HeaderRetryAfter = "Retry-After"

	// HeaderRateLimitLimit reports the bucket capacity of the endpoint.
	HeaderRateLimitLimit = "X-Ratelimit-Limit"

	// HeaderRateLimitRemaining reports the tokens left in the current window.
	HeaderRateLimitRemaining = "X-Ratelimit-Remaining"

	// HeaderRateLimitReset reports the unix time the bucket refills.
	HeaderRateLimitReset = "X-Ratelimit-Reset"
)

// Identity headers forwarded between internal services. A receiving service
// trusts them only because the network boundary is private.
const (
	// HeaderUserID carries the authenticated user ID.
	HeaderUserID = "X-User-Id"

	// HeaderUserEmail carries the authenticated user email.
	HeaderUserEmail = "X-User-Email"

	// HeaderUserRoles carries comma-separated roles.
	HeaderUserRoles = "X-User-Roles"

	// HeaderAuthID carries the session identifier when known.
	HeaderAuthID = "X-Auth-Id"
)

// Common media / content types used in requests and responses.
const (
	// ContentTypeJSON represents "application/json".
	ContentTypeJSON = "application/json"

	// ContentTypeJWT represents "application/jwt".
	ContentTypeJWT = "application/jwt"

	// ContentTypePlainUTF8 represents "text/plain; charset=utf-8".
	ContentTypePlainUTF8 = "text/plain; charset=utf-8"
)

// BearerPrefix is the Authorization header scheme prefix.
const BearerPrefix = "Bearer "
