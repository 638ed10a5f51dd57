package main

import (
	"fmt"
	"os"

	"github.com/tuannm99/novadm/internal/common"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "novadm:", err)
		if common.IsFatal(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
