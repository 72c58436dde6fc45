// Package transport owns the public listener. It routes WebSocket upgrade
// requests and plain HTTP exchanges arriving on one port, adapts accepted
// sockets to the gateway's transport contract, and runs the per-session
// read loops.
package transport
