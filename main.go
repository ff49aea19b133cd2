package main

import "github.com/openshelf/coverage/internal/cmd"

func main() {
	cmd.Execute()
}
