package main

import "htwg-backend/cmd/htwg-cli/cmd"

func main() {
	cmd.Execute()
}
