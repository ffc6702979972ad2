package main

import "github.com/MongooseMoo/moo-conformance-tests/cmd"

// Version can be set during build with -ldflags
var version = "dev"

func main() {
	cmd.SetVersion(version)
	cmd.Execute()
}
