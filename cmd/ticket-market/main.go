package main

import (
	"log"

	"ms-ticket-market/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
