package main

import "github.com/nextlevelbuilder/chorus/cmd"

func main() {
	cmd.Execute()
}
