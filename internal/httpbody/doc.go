// Package httpbody assembles and parses streamed HTTP request bodies.
//
// Bodies arrive as transport chunks. The Assembler enforces the configured
// size limit on accumulated bytes as each chunk lands, independent of the
// declared Content-Length. Parsing happens only after assembly completes:
// JSON, urlencoded forms, and in-memory multipart with a per-file cap.
package httpbody
