package main

import "github.com/mhdmirzan/pose-estimation/cmd"

func main() {
	cmd.Execute()
}
