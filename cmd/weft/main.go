package main

import (
	"weft/internal/cli"
	"weft/internal/logging"
)

func main() {
	logging.InitFromEnv()
	cli.Execute()
}
