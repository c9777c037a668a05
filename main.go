package main

import (
	"github.com/oasisprotocol/fairdraw/cmd"
)

func main() {
	cmd.Execute()
}
