// Package signaling relays call setup messages between browser clients.
//
// A Coordinator owns the connection registry and the room store. Transports
// (see WebSocketServer) register one connection per client, hand every decoded
// inbound Message to Coordinator.Handle in arrival order, and deliver the
// outbound Events the coordinator queues on the connection's Outbox.
//
// Offers, answers and ICE candidates are opaque to the coordinator: they are
// stored and forwarded verbatim as Blobs.
package signaling
