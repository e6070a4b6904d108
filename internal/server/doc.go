// Package server exposes the engine over HTTP: the node catalog, synchronous
// workflow runs with archived execution records, a queue endpoint that hands
// runs to background workers, and a websocket stream of node lifecycle events
// for runs in flight.
package server
