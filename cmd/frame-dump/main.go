// frame-dump decodes a hex-encoded terminal frame from argv or stdin and
// prints its parts. Handy when a terminal trace needs eyeballing.
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/VaXeS13/MP-sub001/internal/terminal/frame"
)

func main() {
	var input string
	if len(os.Args) > 1 {
		input = os.Args[1]
	} else {
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			input = scanner.Text()
		}
	}

	input = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', ':':
			return -1
		}
		return r
	}, input)

	raw, err := hex.DecodeString(input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "not valid hex: %v\n", err)
		os.Exit(1)
	}

	parsed, err := frame.Parse(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad frame: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("type:    %s\n", parsed.Type)
	fmt.Printf("payload: %q\n", parsed.Payload)
	if parsed.Type == "D0" && len(parsed.Payload) >= 2 {
		code := parsed.Payload[:2]
		fmt.Printf("decline: %s (%s)\n", code, frame.DeclineReason(code))
	}
	// Request frames open with amount and currency at fixed offsets.
	if len(parsed.Payload) >= frame.AmountWidth+frame.CurrencyWidth {
		if minor, err := frame.ParseAmount(parsed.Payload[:frame.AmountWidth]); err == nil {
			fmt.Printf("amount:  %d minor units\n", minor)
			fmt.Printf("currency: %s\n", parsed.Payload[frame.AmountWidth:frame.AmountWidth+frame.CurrencyWidth])
		}
	}
}
