package main

import "github.com/prerender/prerender-go/cmd"

func main() {
	cmd.Execute()
}
