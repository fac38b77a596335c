package main

import (
	"github.com/strataetl/strata/cmd"
)

func main() {
	cmd.Execute()
}
