// Package main is a static health probe for distroless images. It exits 0
// when the clickgate /health endpoint answers 200 within the timeout.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"
)

func main() {
	url := flag.String("url", "http://localhost:8080/health", "Health endpoint to probe")
	timeout := flag.Duration("timeout", 3*time.Second, "Probe timeout")
	flag.Parse()

	if !healthy(*url, *timeout) {
		os.Exit(1)
	}
}

func healthy(url string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
