// Package main is the entry point for spendgate.
package main

func main() {
	Execute()
}
