package bridge

import (
	"strconv"
	"strings"
)

// The outbound and inbound wire formats intentionally differ: commands are
// comma-and-space separated while simulator state arrives tab separated.
// Each direction mirrors an independently negotiated generic-protocol
// description, so neither side assumes symmetry with the other.

// EncodeCommand renders a command vector as one ASCII line: fixed-precision
// decimals separated by ", " and terminated by a single newline. One line is
// sent per UDP datagram.
func EncodeCommand(values []float64) []byte {
	var b strings.Builder
	// 10 bytes covers a typical "%f" rendering plus separator.
	b.Grow(len(values)*10 + 1)
	for i, v := range values {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// DecodeState parses one inbound line into a state vector. Fields are
// separated by runs of tabs or other horizontal whitespace. A payload that
// decodes to no fields at all returns (nil, nil): an empty line is a
// distinguished no-data signal, not an error. Any token that does not parse
// as a number yields a MalformedPacketError.
func DecodeState(payload []byte) ([]float64, error) {
	line := strings.TrimRight(string(payload), "\r\n")
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return nil, nil
	}
	values := make([]float64, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, &MalformedPacketError{Token: tok, Position: i, Err: err}
		}
		values[i] = v
	}
	return values, nil
}
