// Command ripforge is the command-line client for the ripforged daemon. It
// controls the daemon over the JSON-RPC socket and follows job progress over
// the HTTP API.
package main
