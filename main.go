package main

import "github.com/dimasma0305/hackforge/cmd"

func main() {
	cmd.Execute()
}
