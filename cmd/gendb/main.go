package main

import "gendb/cmd/gendb/internal/cmd"

func main() {
	cmd.Execute()
}
