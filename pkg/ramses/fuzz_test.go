// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ramses

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// concreteClasses lists every known class that names a real device
func concreteClasses() []DeviceClass {
	classes := []DeviceClass{}
	for c := range deviceClasses {
		if c != ClassBroadcast {
			classes = append(classes, c)
		}
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })
	return classes
}

func randomAddress(rng *rand.Rand, classes []DeviceClass) Address {
	return Address{
		Class:  classes[rng.Intn(len(classes))],
		Number: uint32(rng.Intn(MaxDeviceNumber + 1)),
	}
}

func randomCommand(rng *rand.Rand, classes []DeviceClass) *Command {
	verbs := []Verb{VerbI, VerbRQ, VerbRP, VerbW}
	verb := verbs[rng.Intn(len(verbs))]

	src := randomAddress(rng, classes)
	dst := randomAddress(rng, classes)
	for dst == src {
		dst = randomAddress(rng, classes)
	}
	if verb == VerbI && rng.Intn(2) == 0 {
		dst = NullAddress
	}

	payload := make([]byte, rng.Intn(48))
	rng.Read(payload)

	cmd := NewCommand(verb, dst, Code(rng.Intn(0x10000)), payload)
	cmd.Src = src
	return cmd
}

func TestFuzzEncoder_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	classes := concreteClasses()
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		cmd := randomCommand(rng, classes)

		frame, err := EncodeCommand(cmd)
		if err != nil {
			t.Fatalf("round %d: encode %s: %v", i, cmd, err)
		}
		p, err := ParseLine(string(frame))
		if err != nil {
			t.Fatalf("round %d: parse %q: %v", i, frame, err)
		}

		if p.Verb() != cmd.Verb || p.Code() != cmd.Code || p.Src() != cmd.Src {
			t.Fatalf("round %d: header mismatch %q", i, frame)
		}
		if p.Addrs() != cmd.Addrs() {
			t.Fatalf("round %d: addrs %v, want %v", i, p.Addrs(), cmd.Addrs())
		}
		if !bytes.Equal(p.Payload(), cmd.Payload) {
			t.Fatalf("round %d: payload %X, want %X", i, p.Payload(), cmd.Payload)
		}
		if p.Frame()+LineTerminator != string(frame) {
			t.Fatalf("round %d: frame %q re-encoded as %q", i, frame, p.Frame())
		}
	}
}

func TestFuzzDecoder_CorruptedLines(t *testing.T) {
	rng := newFuzzRng(t)
	classes := concreteClasses()
	rounds := getFuzzRounds()
	alphabet := []byte("0123456789ABCDEFabcdef:- .IRQPW#\x00\xFF")

	for i := 0; i < rounds; i++ {
		line := []byte(strings.TrimSpace(string(MustEncodeCommand(randomCommand(rng, classes)))))

		flips := 1 + rng.Intn(4)
		for j := 0; j < flips; j++ {
			line[rng.Intn(len(line))] = alphabet[rng.Intn(len(alphabet))]
		}

		p, err := NewDecoder().DecodeLine(line)
		if err == nil {
			if p == nil {
				t.Fatalf("round %d: nil packet without error for %q", i, line)
			}
			continue
		}
		var perr *InvalidPacketError
		if !errors.As(err, &perr) {
			t.Fatalf("round %d: %q produced %T, want *InvalidPacketError", i, line, err)
		}
	}
}

func TestFuzzDecoder_Truncated(t *testing.T) {
	rng := newFuzzRng(t)
	classes := concreteClasses()
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		cmd := randomCommand(rng, classes)
		if len(cmd.Payload) == 0 {
			cmd.Payload = []byte{0x00}
		}
		line := strings.TrimSpace(string(MustEncodeCommand(cmd)))
		cut := rng.Intn(len(line) - 1)

		p, err := ParseLine(line[:cut])
		if err == nil {
			t.Fatalf("round %d: truncated line %q parsed as %s", i, line[:cut], p.Frame())
		}
	}
}

func TestFuzzBuilder_RandomPayloads(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()
	catalog := DefaultCatalog()

	codes := make([]Code, 0, len(catalog))
	for c := range catalog {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	src := MustDecodeAddress("01:123456")
	for i := 0; i < rounds; i++ {
		payload := make([]byte, rng.Intn(40))
		rng.Read(payload)

		p, err := NewPacket(VerbI, [3]Address{src, NullAddress, src}, codes[rng.Intn(len(codes))], payload)
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
		m := BuildMessage(p, catalog)
		if m.Fields() == nil {
			t.Fatalf("round %d: nil fields", i)
		}
		_ = ValidateMessage(m)
		_ = FormatMessage(m)
	}
}
