package main

import "github.com/agentic-research/armory/cmd"

func main() {
	cmd.Execute()
}
