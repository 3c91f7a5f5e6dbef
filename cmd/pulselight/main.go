package main

import "github.com/ewilliams-labs/pulselight/internal/cli"

func main() {
	cli.Execute()
}
