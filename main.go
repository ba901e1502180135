package main

import (
	"github.com/sidkik/slate-tools/cmd"
	"github.com/sidkik/slate-tools/cmd/util"
)

func main() {
	defer util.HandlePanic()
	cmd.Execute()
}
