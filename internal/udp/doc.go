// Package udp implements the server side of a TUIC UDP association.
//
// A Session is bound to one (connection, association id) pair. It owns an
// IPv4 socket and, when enabled, an IPv6-only socket, both bound to
// ephemeral ports. Packets from the tunnel are written to the network with
// Send; datagrams arriving from the network are handed back to the parent
// connection by a small pool of relay workers.
//
// # Lifecycle
//
//  1. The connection receives the first Packet for an association id and calls NewSession
//  2. NewSession binds the sockets and starts the listening loop
//  3. Each loop iteration races the idle timer, the close signal and the next datagram
//  4. An idle timeout closes the whole parent connection, not just the session
//  5. Close (Dissociate, or connection teardown) ends the loop and releases the sockets
//
// # Thread Safety
//
// Send and Close are safe for concurrent use.
package udp
