package main

import "github.com/ctxstack/ctxd/internal/cli"

func main() {
	cli.Execute()
}
