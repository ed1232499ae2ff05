// Package api exposes task submission, status, cancellation and the
// dead-letter listing over HTTP. Handlers depend on small interfaces over
// the admission limiter, the gateway and the broker so they can be tested
// with httptest and in-memory components.
package api
