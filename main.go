// The main package for the reg-radar executable.
package main

import "github.com/JakeFAU/reg-radar/cmd"

func main() {
	cmd.Execute()
}
