package main

import "github.com/juanmitaboada/landscape-client/cmd/landscape-config/cmd"

func main() {
	cmd.Execute()
}
