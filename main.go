// The main package for the feedback-pipeline executable.
package main

import (
	"github.com/vrtlabs/feedback-pipeline/cmd"
)

func main() {
	cmd.Execute()
}
