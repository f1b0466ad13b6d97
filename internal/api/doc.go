// Package api exposes the generation service over HTTP. It decodes and
// validates requests, maps service errors to status codes with safe
// messages, and streams progress updates to websocket subscribers.
package api
