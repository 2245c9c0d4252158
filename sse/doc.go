/*
Package sse implements the server-sent-event framing used between the
consoled daemon and its clients.

Frames are the standard text/event-stream format: an optional "event:"
line naming the frame, one "data:" line carrying a JSON object, and a
blank line terminating the frame. The daemon side writes frames with a
Writer; the client side decodes them with a Stream, which delivers
events over a channel in arrival order and reports at most one terminal
error when the connection ends abnormally.

The Stream never reconnects. A broken connection ends the stream
permanently; callers that want to observe again open a new one.
*/
package sse
