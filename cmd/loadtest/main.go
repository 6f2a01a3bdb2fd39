package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"golang.org/x/time/rate"
)

var (
	addr        = flag.String("addr", "localhost:8080", "Server address")
	totalOrders = flag.Int("orders", 500, "Total orders to submit")
	workers     = flag.Int("workers", 20, "Concurrent submitters")
	reqRate     = flag.Float64("rate", 50, "Order submissions per second")
	follow      = flag.Bool("follow", true, "Poll orders to terminal state and report end-to-end latency")
)

type submitResponse struct {
	OrderID string `json:"orderId"`
}

type orderStatus struct {
	Status string `json:"status"`
}

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		log.Println("Received interrupt signal, cleaning up...")
		cancel()
	}()

	submitHist := hdrhistogram.New(1, 60_000, 3)    // ms
	completeHist := hdrhistogram.New(1, 600_000, 3) // ms
	var histMu sync.Mutex

	limiter := rate.NewLimiter(rate.Limit(*reqRate), *workers)
	jobs := make(chan int)
	var wg sync.WaitGroup

	client := &http.Client{Timeout: 10 * time.Second}

	var submitted, failed int
	var countMu sync.Mutex

	start := time.Now()
	log.Printf("Submitting %d orders with %d workers at %.0f req/s...", *totalOrders, *workers, *reqRate)

	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				if err := limiter.Wait(ctx); err != nil {
					return
				}

				orderID, submitMS, err := submitOrder(client)
				countMu.Lock()
				if err != nil {
					failed++
					countMu.Unlock()
					continue
				}
				submitted++
				countMu.Unlock()

				histMu.Lock()
				submitHist.RecordValue(submitMS)
				histMu.Unlock()

				if *follow {
					if e2eMS, ok := awaitTerminal(ctx, client, orderID); ok {
						histMu.Lock()
						completeHist.RecordValue(e2eMS)
						histMu.Unlock()
					}
				}
			}
		}()
	}

	for i := 0; i < *totalOrders; i++ {
		select {
		case jobs <- i:
		case <-ctx.Done():
			i = *totalOrders
		}
	}
	close(jobs)
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("\nSubmitted %d orders (%d failed) in %v (%.1f orders/s)\n",
		submitted, failed, elapsed.Round(time.Millisecond), float64(submitted)/elapsed.Seconds())
	printHistogram("Submit latency (ms)", submitHist)
	if *follow {
		printHistogram("End-to-end latency (ms)", completeHist)
	}
}

func submitOrder(client *http.Client) (string, int64, error) {
	body := []byte(`{"tokenIn":"SOL","tokenOut":"USDC","amountIn":10}`)
	start := time.Now()
	resp, err := client.Post("http://"+*addr+"/orders", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	elapsed := time.Since(start).Milliseconds()

	if resp.StatusCode != http.StatusAccepted {
		return "", elapsed, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", elapsed, err
	}
	return out.OrderID, elapsed, nil
}

// awaitTerminal polls the order until it completes or fails
func awaitTerminal(ctx context.Context, client *http.Client, orderID string) (int64, bool) {
	start := time.Now()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	deadline := time.After(60 * time.Second)
	for {
		select {
		case <-ctx.Done():
			return 0, false
		case <-deadline:
			return 0, false
		case <-ticker.C:
		}

		resp, err := client.Get("http://" + *addr + "/orders/" + orderID)
		if err != nil {
			continue
		}
		var status orderStatus
		err = json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()
		if err != nil {
			continue
		}
		if status.Status == "completed" || status.Status == "failed" {
			return time.Since(start).Milliseconds(), true
		}
	}
}

func printHistogram(name string, hist *hdrhistogram.Histogram) {
	if hist.TotalCount() == 0 {
		fmt.Printf("%s: no samples\n", name)
		return
	}
	fmt.Printf("%s: count=%d min=%d p50=%d p95=%d p99=%d max=%d\n",
		name, hist.TotalCount(), hist.Min(),
		hist.ValueAtQuantile(50), hist.ValueAtQuantile(95), hist.ValueAtQuantile(99), hist.Max())
}
