// Package requestid correlates log records of one inbound HTTP request.
//
// Middleware stores an ID in the request context and echoes it in the
// X-Request-ID response header; LoggerExtractor copies it into slog records
// as "request_id".
package requestid
