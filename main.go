package main

import "github.com/timvw/fallacy-patrol/cmd"

func main() {
	cmd.Execute()
}
