package main

import (
	"log"

	"github.com/MrSnakeDoc/discovery/internal/app"
)

func main() {
	if err := app.New().Run(); err != nil {
		log.Fatalf("❌ discovery failed to start: %v", err)
	}
}
