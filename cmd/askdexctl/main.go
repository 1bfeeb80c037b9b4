package main

import "github.com/kailas-cloud/askdex/internal/cli"

func main() {
	cli.Execute()
}
