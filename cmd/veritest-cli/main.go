package main

import (
	"github.com/veritest/veritest/cmd/veritest-cli/cmd"
)

func main() {
	cmd.Execute()
}
