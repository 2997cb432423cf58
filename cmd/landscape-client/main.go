package main

import "github.com/juanmitaboada/landscape-client/cmd/landscape-client/cmd"

func main() {
	cmd.Execute()
}
