package main

import "github.com/modcdn/modcdn/server"

func main() {
	server.Serve()
}
