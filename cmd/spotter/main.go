package main

import "github.com/MeKo-Tech/spotter/cmd/spotter/cmd"

func main() {
	cmd.Execute()
}
