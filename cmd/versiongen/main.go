package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/danmuck/runnersync/internal/clock"
)

func main() {
	at := flag.String("at", "", "RFC3339 instant to render instead of now")
	ldflags := flag.Bool("ldflags", false, "print as a -ldflags value for cmd/runner-sync")
	flag.Parse()

	now := time.Now()
	if *at != "" {
		parsed, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			log.Fatalf("invalid -at: %v", err)
		}
		now = parsed
	}

	v := clock.Version(now)
	if *ldflags {
		fmt.Printf("-X main.version=%s\n", v)
		return
	}
	fmt.Println(v)
}
