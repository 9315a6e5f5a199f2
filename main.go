package main

import (
	"os"

	"github.com/ayoubh/wardenctl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
