package main

import "fmt"

// version is set at build time:
//
//	go build -ldflags "-X main.version=v1.2.3" ./cmd/weft
var version = "dev"

func printVersion() {
	fmt.Printf("weft %s\n", version)
}
