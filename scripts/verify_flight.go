//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-reader/internal/client"
)

// Sends one prediction record to a Flight server (Longbow, or
// `reader -sink :9090`) and checks it is accepted.
func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to Flight server")
	c, err := client.NewFlightClient(addr, client.NewCircuitBreaker(10, time.Second))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create client")
	}
	defer c.Close()

	rec, err := client.NewRecordBatchBuilder(memory.NewGoAllocator()).BuildRecordBatch([]client.Row{
		{ID: "verify-0", Start: 1, End: 2, Prob: 0.42, Text: "arrow flight", StartProb: []float64{0.1, 0.8, 0.1}, EndProb: []float64{0.1, 0.2, 0.7}},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build record")
	}
	defer rec.Release()

	// Retry while the server starts up.
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		start := time.Now()
		err = c.DoPut(ctx, "verify", rec)
		cancel()
		if err == nil {
			log.Info().Dur("elapsed", time.Since(start)).Msg("Record accepted")
			break
		}
		log.Warn().Err(err).Msg("DoPut failed, retrying...")
		time.Sleep(1500 * time.Millisecond)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed after retries")
	}

	fmt.Println("VERIFICATION PASSED")
}
