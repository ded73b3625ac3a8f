package main

import "github.com/nextlevelbuilder/tinyagi/cmd"

func main() {
	cmd.Execute()
}
