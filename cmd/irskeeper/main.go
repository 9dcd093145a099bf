package main

import "irs-keeper/internal/cli"

func main() {
	cli.Execute()
}
