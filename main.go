// SPDX-License-Identifier: MPL-2.0

// msrun builds, runs and exercises a containerized microservice described by
// a microservice.yml manifest.
package main

import cmd "github.com/invowk/msrun/cmd/msrun"

func main() {
	cmd.Execute()
}
