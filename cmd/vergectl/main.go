package main

import "github.com/XppaiCyberr/clash-verge-xpp/internal/cli"

func main() {
	cli.Execute()
}
