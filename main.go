package main

import "github.com/storiesoff/backend/cmd"

func main() {
	cmd.Execute()
}
