package main

import (
	"os"
	"testing"
)

func TestMainPrintsHelpWithoutConfiguration(testingT *testing.T) {
	originalArguments := os.Args
	testingT.Cleanup(func() {
		os.Args = originalArguments
	})

	os.Args = []string{commandUseName, "--help"}
	main()
}
