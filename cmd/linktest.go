// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test raw gateway connection stability",
	Long: `Test the connection to the gateway without decoding or sending frames.

This command connects and just waits, logging the raw lines received and any
errors encountered. Useful for debugging connection stability issues with a
WebSocket bridge or a flaky USB serial adapter.

Exit codes:
  0 - Test completed normally
  1 - Test failed
  2 - Connection error`,
	RunE: runLinkTest,
}

var linkTestDuration int

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestDuration, "duration", 30, "Test duration in seconds")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	sess, err := loadSession(cmd)
	if err != nil {
		exitWith(2, "Configuration error: %v\n", err)
	}

	conn, connInfo, err := OpenConnection(sess.cfg)
	if err != nil {
		exitWith(2, "Connection error: %v\n", err)
	}
	defer conn.Close()

	fmt.Printf("Gateway Connection Stability Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Duration: %d seconds\n\n", linkTestDuration)

	readChan := make(chan []byte, 100)
	errChan := make(chan error, 1)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				readChan <- data
			}
			if err != nil {
				errChan <- err
				return
			}
		}
	}()

	start := time.Now()
	endTime := start.Add(time.Duration(linkTestDuration) * time.Second)
	bytesReceived := 0
	linesReceived := 0
	var partial []byte

	fmt.Printf("Listening for data...\n\n")

	for time.Now().Before(endTime) {
		select {
		case data := <-readChan:
			bytesReceived += len(data)
			partial = append(partial, data...)
			for {
				i := bytes.IndexByte(partial, '\n')
				if i < 0 {
					break
				}
				line := bytes.TrimRight(partial[:i], "\r")
				partial = partial[i+1:]
				if len(line) == 0 {
					continue
				}
				linesReceived++
				fmt.Printf("[%s] %s\n", time.Now().Format("15:04:05.000"), line)
			}

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), err)
			fmt.Printf("\n--- Test Results ---\n")
			fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
			fmt.Printf("Lines received: %d\n", linesReceived)
			fmt.Printf("Bytes received: %d\n", bytesReceived)
			fmt.Printf("Result: FAILED (connection error)\n")
			os.Exit(1)

		case <-time.After(1 * time.Second):
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] Still connected... (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), remaining)
		}
	}

	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %d seconds\n", linkTestDuration)
	fmt.Printf("Lines received: %d\n", linesReceived)
	fmt.Printf("Bytes received: %d\n", bytesReceived)
	if len(partial) > 0 {
		fmt.Printf("Unterminated tail: %d bytes\n", len(partial))
	}
	fmt.Printf("Result: PASSED (connection stable)\n")

	return nil
}
