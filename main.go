package main

import "VibeTune/cmd"

func main() {
	cmd.Execute()
}
