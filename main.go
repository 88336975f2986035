package main

import "flashpair-backend/cmd"

func main() {
	cmd.Run()
}
