// Package license implements the license validation and activation
// engine: key generation and canonicalization, tier resolution,
// request-origin security policy evaluation, and the validation
// pipeline that turns a (license key, site identity) pair into an
// authorization decision.
//
// The package holds no session state; every decision is re-derived from
// the stored license, activation, and counter state on each call.
package license
