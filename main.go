package main

import "github.com/macfound/configaudit/cmd"

func main() {
	cmd.Execute()
}
