package main

import (
	"fmt"
	"os"

	"restaurant-voice/internal/config"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	root := newRootCmd(config.Load, os.Stdout)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
