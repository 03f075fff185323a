package main

import (
	"os"

	"github.com/bahdotsh/dbug/debugger/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
