// The main package for the sitescope executable.
package main

import "github.com/sitescope/crawler/cmd"

func main() {
	cmd.Execute()
}
