// Package events carries task lifecycle notifications from the task registry
// to any interested component without coupling them to the registry itself.
//
// The primary components are:
// - TaskEvent: a committed change to one task record
// - EventHandler: interface for components that react to events
// - EventEmitter: interface for components that publish events
package events
