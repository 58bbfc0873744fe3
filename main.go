package main

import "github.com/schemaguard/schemaguard/cmd"

func main() {
	cmd.Execute()
}
