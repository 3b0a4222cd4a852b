package main

import (
	"github.com/jefdiesel/appchain-ens/cmd"
)

func main() {
	cmd.Execute()
}
