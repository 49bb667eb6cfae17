package main

import "workloop/internal/cli"

func main() {
	cli.Execute()
}
