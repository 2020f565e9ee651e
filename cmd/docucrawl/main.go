package main

import (
	"os"

	"github.com/JakeFAU/docucrawl/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
