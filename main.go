package main

import "github.com/neomagi/neomagi/cmd"

func main() {
	cmd.Execute()
}
