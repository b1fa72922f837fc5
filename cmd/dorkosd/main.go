// Command dorkosd is the DorkOS server entrypoint: a thin spf13/cobra shell
// over the subsystems implemented under internal/ (spec §1 ambient stack).
// The HTTP+SSE transport, route handlers, and browser UI are out of scope;
// this binary wires the subsystems together and would hand them to a route
// adapter built against pkg/protocol.Port.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
