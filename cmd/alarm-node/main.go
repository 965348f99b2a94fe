package main

import "github.com/oshokin/alarm-central/cmd/alarm-node/cmd"

func main() {
	cmd.Execute()
}
