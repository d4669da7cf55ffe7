// Command plc-client-demo is a minimal driver exercising pkg/plcclient
// against a running plc-server: write a value, read it back, wait for
// ENTER, then write the incremented value — grounded on
// src/mujinplcexample/main.cpp's construct-start-wait-for-ENTER shape,
// here applied to a client rather than the server it originally drove.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mujin/goplc/internal/plcvalue"
	"github.com/mujin/goplc/pkg/plcclient"
)

func main() {
	target := getEnv("PLC_DEMO_TARGET", "ws://127.0.0.1:7001/")

	client := plcclient.NewClient(plcclient.Config{URL: target})
	defer client.Close()

	ctx := context.Background()

	if err := client.WriteKeyValues(ctx, map[string]plcvalue.Value{
		"demo.counter": plcvalue.Integer(1),
	}); err != nil {
		slog.Error("plc-client-demo: initial write failed", "error", err)
		os.Exit(1)
	}

	values, err := client.ReadKeys(ctx, []string{"demo.counter"})
	if err != nil {
		slog.Error("plc-client-demo: read failed", "error", err)
		os.Exit(1)
	}
	fmt.Printf("demo.counter = %s\n", values["demo.counter"].String())

	fmt.Println()
	fmt.Print("Press ENTER to increment demo.counter and exit ...")
	bufio.NewReader(os.Stdin).ReadString('\n')

	next := values["demo.counter"].GetInteger() + 1
	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.WriteKeyValues(writeCtx, map[string]plcvalue.Value{
		"demo.counter": plcvalue.Integer(next),
	}); err != nil {
		slog.Error("plc-client-demo: final write failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("demo.counter = %d\n", next)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
