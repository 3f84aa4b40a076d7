package main

import (
	"log"
	"net/http"
	"os"

	"github.com/plenumhq/plenum/internal/server"

	_ "github.com/plenumhq/plenum/internal/action/actions"
	_ "github.com/plenumhq/plenum/internal/importer"
)

func main() {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":9002"
	}

	h, err := server.NewHandler()
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("listening on %s", addr)
	if err := http.ListenAndServe(addr, h); err != nil {
		log.Fatal(err)
	}
}
