package main

import (
	"github.com/tebeka/atexit"

	"github.com/OpenTraceLab/OpenTraceSoC/cmd/otsoc/cmd"
)

func main() {
	cmd.Execute()
	atexit.Exit(0)
}
