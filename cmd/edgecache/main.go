// Package main provides the edgecache CLI: a caching proxy that serves
// static assets cache-first and API calls network-first with a stale
// fallback.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
