package main

import "github.com/nextlevelbuilder/ircrelay/cmd"

func main() {
	cmd.Execute()
}
