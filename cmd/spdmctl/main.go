// spdmctl is a thin operator CLI: it reports build version information and
// checks reachability of a running daemon's metrics endpoint. It does not
// speak SPDM itself; see spdm-requester-emu and spdm-responder-emu for that.
package main

import "github.com/spdm-core/spdm-core/cmd/spdmctl/commands"

func main() {
	commands.Execute()
}
