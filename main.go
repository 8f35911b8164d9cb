// The main package for the omnicrawler executable.
package main

import (
	"github.com/JakeFAU/omnicrawler/cmd"
)

func main() {
	cmd.Execute()
}
