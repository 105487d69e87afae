package main

import "calxfer/cmd"

func main() {
	cmd.Run()
}
