package main

import "github.com/joho/godotenv"

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()
	Execute()
}
