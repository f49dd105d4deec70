package main

import "github.com/sokinpui/pin/cli"

func main() {
	cli.Execute()
}
