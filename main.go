package main

import "github.com/audiolibrelab/quickrecorder/cmd"

func main() {
	cmd.Execute()
}
