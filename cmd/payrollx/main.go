package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"payrollx/internal/cli"
)

func main() {
	_ = godotenv.Load()

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "payrollx:", err)
		os.Exit(1)
	}
}
