package main

import "wamq/cmd"

func main() {
	cmd.Execute()
}
