// Package server implements the real-time presence and room-messaging hub and
// the HTTP, WebSocket and gRPC health surfaces around it.
//
// A single Hub goroutine owns every connection together with the presence,
// room and typing registries. Read pumps, validators and ingress consumers
// hand work to it over channels, so registry state never needs a lock.
// The implementation is organized into specialized files for configuration,
// hub management, event handling, authentication, dispatch, clients, routing,
// and HTTP handlers.
package server
