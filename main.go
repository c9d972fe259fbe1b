package main

import (
	"os"

	"github.com/adalundhe/tideline/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
