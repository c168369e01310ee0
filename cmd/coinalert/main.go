package main

import "coin-price-alerts/internal/cli"

func main() {
	cli.Execute()
}
