package main

import (
	"fmt"
	"os"

	"github.com/faanross/pngrsa/cmd/pngrsa/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "❌ Error:", err)
		os.Exit(1)
	}
}
