package protocol

// This package implements the parsing and serialising of frames for the
// protocol that pingpong peers use to call each other over a single TCP
// connection.
//
// This protocol aims to be
//
// - easy to implement in any language with a JSON parser
// - symmetric, either end of a connection may call the other
// - be human readable
//
// - `Frame` - One newline terminated JSON object on the wire.
// - `Call` - A frame asking the peer to run its handler.
// - `Response` - A frame carrying the outcome of a call that asked for a reply.
//
// === General Syntax
//
// - frames are `\n` delimited, a trailing `\r` is tolerated
// - every frame is a single JSON object
// - empty lines are ignored, a line holding only whitespace is malformed
//
// A peer may send calls whenever it likes, so calls from one side can interleave
// with calls and responses from the other. Calls that want a reply carry a call
// ID which is echoed back in the response so the caller can associate the reply
// with the right continuation.
//
// Call IDs are assigned by the caller, start at 0 and increase by one for every
// call that wants a reply. They are only unique per connection.
//
// === Calls
//
//   ```
//     {"id":<callID>,"ar":[<arg>, ...]}\n
//   ```
//
// Both fields are optional. Without `id` the call is fire-and-forget and the peer
// never replies. Without `ar` the call has no arguments. `{}` is a valid call.
//
// === Responses
//
//   ```
//     {"ci":<callID>,"re":<value>}\n
//     {"ci":<callID>,"er":"<errMessage>"}\n
//     {"ci":<callID>}\n
//   ```
//
// The presence of `ci` is what makes a frame a response. `er` is a human readable
// error message, `re` is any JSON value. A response with neither is a plain
// acknowledgement.
//
// Responses for call IDs that are not pending (duplicates, or calls made on a
// previous connection) are ignored.
//
// === Malformed frames
//
// A line that is not a JSON object, or whose `id`, `ci`, `ar` or `er` fields have
// the wrong type, is a protocol violation. Peers treat it as fatal for the
// connection.
//
