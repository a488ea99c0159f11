// The main package for the minigist executable.
package main

import "github.com/JakeFAU/minigist/cmd"

func main() {
	cmd.Execute()
}
