package main

import "github.com/rustyeddy/killswitch/internal/cli"

func main() {
	cli.Execute()
}
