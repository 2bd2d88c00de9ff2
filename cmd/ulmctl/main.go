package main

import (
	"os"

	"github.com/aussiebroadwan/ulm/internal/console"
)

func main() {
	os.Exit(console.Main(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}
