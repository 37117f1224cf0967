// Package ws streams registry change events to WebSocket clients.
//
// Each connection gets a uuid client id and its own change feed
// subscription, released when the peer disconnects. Clients that fall
// more than a buffer behind are disconnected rather than slowing the feed.
package ws
