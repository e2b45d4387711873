package main

import "github.com/localshare-go/localshare/cmd"

func main() {
	cmd.Execute()
}
