package main

import (
	"os"

	"github.com/porthorian/hashpolicy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
