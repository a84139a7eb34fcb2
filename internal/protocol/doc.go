// Package protocol implements the framed wire protocol spoken between the
// interceptor, the host daemon and the CLI over Unix stream sockets.
//
// # Frame
//
//	+----------------+----------+-------+----------------+-------------+
//	| length u32 BE  | category | flags | checksum u32BE | payload ... |
//	+----------------+----------+-------+----------------+-------------+
//
// The category byte is one of command, hook, request or response. Flag bit 0
// marks a zstd-compressed payload. The checksum is the low 32 bits of the
// xxhash64 of the payload bytes as sent.
//
// # Payload
//
// A deterministic CBOR map {1: type, 2: request id, 3: body}. The type is the
// single discriminator of the message; the body decodes into the matching
// variant struct.
//
// # Streams
//
// Conn reads complete frames off a byte stream. Partial frames stay buffered
// until the rest arrives; EOF with an empty buffer is an orderly shutdown,
// EOF inside a frame is a connection reset.
package protocol
