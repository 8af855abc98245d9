package main

import "github.com/StricklySoft/stricklysoft-claims/cmd/claimsapi/cmd"

func main() {
	cmd.Execute()
}
