package main

import "poisearch/internal/cli"

func main() {
	cli.Execute()
}
