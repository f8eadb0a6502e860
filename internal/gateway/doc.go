// Package gateway wires the mesh side and the Telegram side together.
//
// The router is the single decision point for every inbound message:
// mesh packets arrive through a bounded queue fed by the connection
// supervisor, chat messages through the bot long-poll stream, and one
// event loop applies the relay and pairing rules to both.
package gateway
