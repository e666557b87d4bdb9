// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/Thermoquad/ramsestat/pkg/ramses"
	"github.com/spf13/cobra"
)

var recordsCode string

var recordsCmd = &cobra.Command{
	Use:   "records [file]",
	Short: "Print a CBOR message record stream",
	Long: `Decode the CBOR records written by "raw_log --format cbor" and print one
line per message. Reads stdin when no file is given.

Example:
  ramsestat raw_log --format cbor --port /dev/ttyACM0 > traffic.cbor
  ramsestat records traffic.cbor --code 30C9`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRecords,
}

func init() {
	rootCmd.AddCommand(recordsCmd)
	recordsCmd.Flags().StringVar(&recordsCode, "code", "", "Only print records with this code")
}

func runRecords(cmd *cobra.Command, args []string) error {
	var filter *ramses.Code
	if recordsCode != "" {
		code, err := ramses.ParseCode(strings.ToUpper(recordsCode))
		if err != nil {
			return err
		}
		filter = &code
	}

	in := io.Reader(os.Stdin)
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	return printRecords(os.Stdout, in, filter)
}

// printRecords writes one line per record until the stream ends
func printRecords(w io.Writer, r io.Reader, filter *ramses.Code) error {
	dec := ramses.NewRecordDecoder(r)
	for n := 0; ; n++ {
		var rec ramses.MessageRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("record %d: %w", n, err)
		}
		if filter != nil && ramses.Code(rec.Code) != *filter {
			continue
		}
		fmt.Fprintln(w, formatRecord(rec))
	}
}

func formatRecord(rec ramses.MessageRecord) string {
	var s strings.Builder
	fmt.Fprintf(&s, "%s %-2s %s %s %04X",
		rec.Timestamp.Format("2006-01-02T15:04:05.000"), rec.Verb, rec.Src, rec.Dst, rec.Code)
	if rec.RSSI != nil {
		fmt.Fprintf(&s, " rssi=%03d", *rec.RSSI)
	}
	if rec.Name == "" {
		fmt.Fprintf(&s, " %X", rec.Payload)
		return s.String()
	}

	s.WriteString(" " + rec.Name)
	keys := make([]string, 0, len(rec.Fields))
	for k := range rec.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&s, " %s=%v", k, rec.Fields[k])
	}
	return s.String()
}
