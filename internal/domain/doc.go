// Package domain defines the core business entities of the music generation
// service: the parameters a client submits, the composition a producer
// returns, and the static catalog of genres and models. Entities here carry
// no persistence or transport concerns.
package domain
