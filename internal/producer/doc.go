// Package producer contains the built-in note producers: a deterministic
// pattern generator used when no model backend is configured, and a producer
// that always fails, useful for exercising failure handling end to end.
package producer
