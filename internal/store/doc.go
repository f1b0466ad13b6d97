// Package store defines the persistence boundary for generated compositions.
// The ResultStore interface keeps the task engine independent of whether
// payloads live on disk, in a SQL database or in Redis.
package store
