package main

import "github.com/crash-analysis/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
