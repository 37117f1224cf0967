// Package server assembles the registry: data directory, database, change
// feed, service and the gin router with its middleware, WebSocket stream
// and metrics endpoint.
package server
