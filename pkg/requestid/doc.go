// Package requestid propagates request correlation ids.
//
// Middleware accepts a client supplied X-Request-ID when it is at most 128
// characters of [a-zA-Z0-9_-], otherwise it generates a UUID. The id is
// stored in the request context and echoed in the response header.
// LoggerExtractor plugs the id into every log record written with that
// context:
//
//	log := logger.New(logger.WithContextExtractors(requestid.LoggerExtractor()))
//	router.Use(requestid.Middleware)
package requestid
