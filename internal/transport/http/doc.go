// Package http implements the HTTP request handlers for the license server.
// It is a thin layer between transport and business logic: handlers parse
// and validate requests, call the service layer, and map domain errors to
// HTTP responses.
//
// # Request Flow
//
//	HTTP Request → Chi Router → Middleware → Handler → Service → Store
//	                                              ↓
//	HTTP Response ← Handler ← Service Response ←─┘
//
// Validation failures are rendered as RFC 7807 problem documents; domain
// rejections use the APIError envelope produced by errors.MapDomainError.
package http
