// Package broadcast implements outbound message framing and channel fan-out.
//
// A payload destined for many channels is serialized once; each channel's
// frame is produced by splicing a "room" field in front of the payload's
// closing brace. The splice runs on a single reusable scratch buffer with
// pre-reserved slack, and every frame is copied before it is handed to the
// publisher, so an in-flight publish never observes the next channel's
// rewrite.
package broadcast
