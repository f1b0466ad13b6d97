// Package task owns the lifecycle of generation tasks: the registry that
// holds every task record, the runner that drives a task from queued to a
// terminal state on a bounded worker pool, and the broadcaster that pushes
// live progress to subscribers. Generation itself and payload persistence
// are delegated to the Producer and store.ResultStore collaborators.
package task
