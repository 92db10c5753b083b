package main

import "github.com/liftedinit/credledger/cmd/credledger"

func main() {
	credledger.Execute()
}
