// Command jumper is the yggjumper entry point: NAT traversal sidecar for
// the Yggdrasil overlay (spec.md 1).
package main

import "github.com/LeJamon/yggjumper/internal/cli"

func main() {
	cli.Execute()
}
