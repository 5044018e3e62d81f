// Command examples triggers every SwapPilot job once, in pipeline order, the
// way an external cron service would.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"SwapPilot/sdk/go/swappilot"
)

func main() {
	baseURL := os.Getenv("SWAPPILOT_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	client, err := swappilot.NewClient(baseURL, os.Getenv("SWAPPILOT_CRON_SECRET"), nil)
	if err != nil {
		log.Fatalf("create client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	order := []string{
		swappilot.JobSignals,
		swappilot.JobExecute,
		swappilot.JobMonitor,
		swappilot.JobHarvest,
		swappilot.JobBuyback,
	}
	for _, job := range order {
		raw, err := client.TriggerRaw(ctx, job)
		switch {
		case swappilot.IsBusy(err):
			fmt.Printf("%s: already running\n", job)
		case err != nil:
			log.Fatalf("%s: %v", job, err)
		default:
			fmt.Printf("%s: %s\n", job, raw)
		}
	}
}
