package main

import "github.com/tpodg/smscampaign/internal/cli"

func main() {
	cli.Execute()
}
