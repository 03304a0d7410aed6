package main

import "github.com/ValentinKolb/dCall/cmd"

func main() {
	cmd.Execute()
}
