package main

import (
	"github.com/awnumar/memguard"

	"github.com/jmcleod/gatehouse/cmd/gatehouse/cmd"
)

func main() {
	code := 0
	if err := cmd.Execute(); err != nil {
		code = 1
	}
	// Wipe every enclave and key buffer before the process goes away.
	memguard.SafeExit(code)
}
