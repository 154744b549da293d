package main

import "github.com/unclebandit/campaign-mailer/internal/cli"

func main() {
	cli.Execute()
}
