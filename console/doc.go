/*
Package console is the client-side bridge between a consoled stream and
whatever renders it. One Controller owns one session at a time: it
opens the event stream, keeps the transcript in arrival order, watches
for the auth helper's sign-in URL, and relays typed commands to the
managed process's stdin.

A session moves idle -> running -> settled. It settles exactly once,
either on the stream's done frame (carrying the exit code) or on a
transport failure, and every way it settles leaves a visible line in
the transcript. Starting a new session discards the old one entirely;
events still arriving from a superseded stream carry the old session ID
and are ignored.
*/
package console
