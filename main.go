package main

import "github.com/nextlevelbuilder/goscan/cmd"

func main() {
	cmd.Execute()
}
