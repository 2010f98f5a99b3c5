// Package main is the entry point for the nkrypt desktop stack bootstrapper.
//
// @title          nkrypt desktop bootstrapper API
// @version        1.0
// @description    Starts, stops and removes the local nkrypt container stack and reports its status.
// @host           localhost:9206
// @BasePath       /
// @schemes        http
package main

func main() {
	Execute()
}
