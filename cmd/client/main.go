package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	serverAddr = flag.String("addr", "localhost:8080", "The server address in the format host:port")
	tokenIn    = flag.String("in", "SOL", "Source token")
	tokenOut   = flag.String("out", "USDC", "Destination token")
	amountIn   = flag.String("amount", "10", "Amount of the source token to swap")
	noFollow   = flag.Bool("no-follow", false, "Submit only, do not stream progress")
)

type submitResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

type progressFrame struct {
	Type    string `json:"type,omitempty"`
	OrderID string `json:"orderId"`
	Status  string `json:"status,omitempty"`
	Stage   string `json:"stage,omitempty"`

	Quotes *struct {
		Quotes []struct {
			Venue string `json:"venue"`
			Price string `json:"price"`
		} `json:"quotes"`
		Selected string `json:"selected"`
	} `json:"quotes,omitempty"`

	Completed *struct {
		SettlementRef string `json:"settlementRef"`
		Price         string `json:"price"`
		AmountOut     string `json:"amountOut"`
		Venue         string `json:"venue"`
	} `json:"completed,omitempty"`

	Failed *struct {
		Reason  string `json:"reason"`
		Attempt int    `json:"attempt"`
		Final   bool   `json:"final"`
	} `json:"failed,omitempty"`
}

func main() {
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	orderID, err := submit()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to submit order")
	}

	cyan := color.New(color.FgCyan).SprintfFunc()
	fmt.Printf("%s %s -> %s amount=%s\n", cyan("Order accepted:"), *tokenIn, *tokenOut, *amountIn)
	fmt.Printf("  orderId: %s\n", orderID)

	if *noFollow {
		return
	}

	if err := follow(orderID); err != nil {
		log.Fatal().Err(err).Msg("Progress stream failed")
	}
}

func submit() (string, error) {
	body, err := json.Marshal(map[string]interface{}{
		"tokenIn":  *tokenIn,
		"tokenOut": *tokenOut,
		"amountIn": json.RawMessage(*amountIn),
	})
	if err != nil {
		return "", err
	}

	resp, err := http.Post("http://"+*serverAddr+"/orders", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var errBody map[string]string
		json.NewDecoder(resp.Body).Decode(&errBody)
		return "", fmt.Errorf("server rejected order (%d): %s %s", resp.StatusCode, errBody["error"], errBody["message"])
	}

	var out submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.OrderID, nil
}

func follow(orderID string) error {
	wsURL := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/orders/" + orderID + "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL.String(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	green := color.New(color.FgGreen).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()
	yellow := color.New(color.FgYellow).SprintfFunc()

	for {
		var frame progressFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}

		switch {
		case frame.Type == "connected":
			fmt.Printf("  %s\n", yellow("streaming progress..."))
		case frame.Completed != nil:
			fmt.Printf("%s venue=%s price=%s amountOut=%s\n",
				green("COMPLETED"), frame.Completed.Venue, frame.Completed.Price, frame.Completed.AmountOut)
			fmt.Printf("  settlementRef: %s\n", frame.Completed.SettlementRef)
			return nil
		case frame.Failed != nil && frame.Failed.Final:
			fmt.Printf("%s after %d attempts: %s\n", red("FAILED"), frame.Failed.Attempt, frame.Failed.Reason)
			return nil
		case frame.Failed != nil:
			fmt.Printf("  %s attempt %d: %s (will retry)\n", red("error"), frame.Failed.Attempt, frame.Failed.Reason)
		case frame.Quotes != nil:
			for _, q := range frame.Quotes.Quotes {
				marker := " "
				if q.Venue == frame.Quotes.Selected {
					marker = "*"
				}
				fmt.Printf("  %s quote %s @ %s\n", marker, q.Venue, q.Price)
			}
		default:
			fmt.Printf("  [%s] %s\n", frame.Status, frame.Stage)
		}
	}
}
