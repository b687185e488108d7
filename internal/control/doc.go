// Package control implements the daemon's plaintext TCP control protocol.
//
// A client connects, sends one command line ("stop" or "status"), and reads
// reply lines until the server closes the connection. Unknown commands are
// answered by closing the connection without a reply. Connections are served
// one at a time.
package control
