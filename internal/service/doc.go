// Package service provides the application-level operations behind the HTTP
// API: submitting generations, reading their status and results, listing,
// deleting and previewing them. It coordinates the task runner, the task
// registry and the result store without knowing about transport concerns.
package service
