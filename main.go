// Command vamdc queries spectroscopic line data across VAMDC nodes.
package main

import (
	"github.com/JakeFAU/vamdc-lines/cmd"
)

func main() {
	cmd.Execute()
}
