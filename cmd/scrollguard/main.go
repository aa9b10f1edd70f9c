package main

import "github.com/vanpelt/scrollguard/internal/cmd"

func main() {
	cmd.Execute()
}
