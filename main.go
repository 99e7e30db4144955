// netplugd watches network interface link state and runs a helper
// script when an interface goes administratively up/down or gains/loses
// carrier.
package main

import (
	"os"

	"netplugd/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
