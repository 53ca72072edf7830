package main

import (
	"github.com/luma/pingpong/cmd"
)

func main() {
	cmd.Execute()
}
