package main

import "github.com/oshokin/alarm-central/cmd/alarm-central/cmd"

func main() {
	cmd.Execute()
}
