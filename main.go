package main

import "github.com/batmaniv/batmand/cmd"

func main() {
	cmd.Execute()
}
