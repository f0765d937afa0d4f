package main

import (
	"os"

	"github.com/rxtrust/rxtrust-api/cmd"
)

func main() {
	os.Exit(cmd.Execute(os.Stderr))
}
