package main

import "github.com/theirongolddev/callpulse/cmd"

func main() {
	cmd.Execute()
}
