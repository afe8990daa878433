package main

import (
	"os"

	"github.com/vitalmesh-systems/vitalmesh-settlement/cmd/settlectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
