package main

import "boorubot/cmd"

func main() {
	cmd.Execute()
}
