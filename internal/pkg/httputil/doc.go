// Package httputil provides the JSON request/response helpers used by every
// API handler.
//
// Handlers use these instead of raw http.ResponseWriter calls so the error
// envelope, Content-Type handling, and body decoding rules stay identical
// across endpoints.
package httputil
