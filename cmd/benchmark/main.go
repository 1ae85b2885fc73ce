package main

import (
	"fmt"
	"os"

	"gendb/internal/bench"
)

func main() {
	baseURL := "http://localhost:8080"
	if len(os.Args) > 1 {
		baseURL = os.Args[1]
	}

	if err := bench.Suite(os.Stdout, bench.NewClient(baseURL), 100, 10); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}
