// livetx relays a live byte stream between two media given as URIs:
// files, the console, UDP sockets, named pipes, and protocol sockets in
// caller, listener, or rendezvous mode.
package main

import "os"

func main() {
	os.Exit(run(os.Args[1:]))
}
