// Package pubsub provides the in-process publish-subscribe hub.
//
// The hub fills the publisher contract for a single-instance deployment:
// channel membership lives in memory and published frames are delivered to
// local subscribers through the entry point's send path. Deployments that
// fan out across instances replace it behind the same interface.
package pubsub
