package main

import "github.com/davarch/aerotiles/cmd/aerotiles/cli"

func main() {
	cli.Execute()
}
