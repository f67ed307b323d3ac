package main

import (
	"go-manga-download/cmd/manga-downloader/cmd"
)

func main() {
	// Execute the root command (defined in cmd/root.go)
	cmd.Execute()
}
