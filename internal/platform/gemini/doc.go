// Package gemini provides a task.Producer that asks Google's Gemini API to
// compose the notes of a generation request.
//
// This package is an infrastructure adapter: it renders the request into a
// prompt, calls the model through the google.golang.org/genai client, and
// converts the structured JSON answer into a domain.Composition. Transient
// API failures are retried with exponential backoff; responses blocked by
// safety filters or that cannot be parsed are treated as permanent.
package gemini
