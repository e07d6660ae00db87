// Package http exposes the validation engine over HTTP: the client
// validate/check/deactivate endpoints, the signed download endpoint,
// and the small administrative surface for issuing keys and tokens.
package http
