// Package encoding negotiates and applies HTTP content codings.
//
// Outbound selection follows a fixed priority (gzip, then deflate, then
// identity) over whatever set the client accepts; header order and quality
// values do not influence it. Inbound bodies may arrive wrapped in multiple
// coding layers, undone in reverse order up to a configured depth, with each
// decompression capped to guard against expansion bombs.
package encoding
