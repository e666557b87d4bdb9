// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import "fmt"

// LineTerminator ends every frame written to a gateway
const LineTerminator = "\r\n"

// EncodeCommand serializes a command into the byte string written to the
// gateway. Sequence number, timestamp and signal strength are never emitted.
func EncodeCommand(cmd *Command) ([]byte, error) {
	if cmd == nil {
		return nil, fmt.Errorf("failed to encode command: nil command")
	}
	p, err := cmd.Packet()
	if err != nil {
		return nil, fmt.Errorf("failed to encode command %s: %w", cmd.Code, err)
	}
	return []byte(p.Frame() + LineTerminator), nil
}

// MustEncodeCommand is like EncodeCommand but panics on error
func MustEncodeCommand(cmd *Command) []byte {
	b, err := EncodeCommand(cmd)
	if err != nil {
		panic(err)
	}
	return b
}
