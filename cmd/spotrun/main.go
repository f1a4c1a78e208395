package main

import (
	"os"

	"github.com/tidelinehq/spotrun/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
