// Package main implements the syncrelay binary: the relay server and a
// terminal client that watches a user's live updates.
package main

import "github.com/enflame-media/syncrelay/cmd/syncrelay/cmd"

func main() {
	cmd.Execute()
}
