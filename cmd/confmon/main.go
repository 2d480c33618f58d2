// Copyright © 2018 One Concern

package main

import (
	"github.com/oneconcern/confmon/cmd/confmon/cmd"
)

func main() {
	cmd.Execute()
}
