// Command dstrace runs SQL statements through the dstrace driver wrapper and
// prints the connection, query and fetch spans they produced.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
