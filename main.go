package main

import "github.com/nextlevelbuilder/routegen/cmd"

func main() {
	cmd.Execute()
}
