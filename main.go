package main

import (
	"TrackDeal/cmd"
)

func main() {
	cmd.Execute()
}
