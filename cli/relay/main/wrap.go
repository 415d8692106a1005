package main

import (
	"fmt"
	"os"

	"github.com/bytelane/sluice/cli/relay"
)

func main() {
	err := relay.MainCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
