package main

import "github.com/tartarus-sandbox/pythia/cmd/pythia/cmd"

func main() {
	cmd.Execute()
}
