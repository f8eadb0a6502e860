// Package mesh speaks the Meshtastic TCP stream protocol.
//
// It contains the wire codec for the framed radio stream, a TCP client
// holding one live device session, a cheap reachability probe, and the
// connection supervisor that keeps a session alive across device reboots,
// network loss and firmware lockups.
package mesh
