package main

import "klbot/cmd"

func main() {
	cmd.Execute()
}
