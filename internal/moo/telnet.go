package moo

// Telnet protocol bytes recognized by StripTelnet.
const (
	telnetSE   = 0xF0
	telnetSB   = 0xFA
	telnetWill = 0xFB
	telnetDont = 0xFE
	telnetIAC  = 0xFF
)

// StripTelnet removes telnet IAC command sequences from data. Servers send
// option negotiation at connect time and may interleave it with output.
// Handled forms:
//
//	IAC IAC                   literal 0xFF byte
//	IAC WILL/WONT/DO/DONT opt three-byte negotiation
//	IAC SB ... IAC SE         subnegotiation of any length
//	IAC cmd                   any other two-byte command
//
// A sequence cut off at the end of data is returned in rest so the caller
// can prepend it to the next read.
func StripTelnet(data []byte) (clean, rest []byte) {
	i := 0
	for i < len(data) {
		b := data[i]
		if b != telnetIAC {
			clean = append(clean, b)
			i++
			continue
		}
		if i+1 >= len(data) {
			rest = append(rest, data[i:]...)
			return clean, rest
		}
		cmd := data[i+1]
		switch {
		case cmd == telnetIAC:
			clean = append(clean, telnetIAC)
			i += 2
		case cmd >= telnetWill && cmd <= telnetDont:
			if i+2 >= len(data) {
				rest = append(rest, data[i:]...)
				return clean, rest
			}
			i += 3
		case cmd == telnetSB:
			j := i + 2
			for {
				if j+1 >= len(data) {
					rest = append(rest, data[i:]...)
					return clean, rest
				}
				if data[j] == telnetIAC && data[j+1] == telnetSE {
					break
				}
				j++
			}
			i = j + 2
		default:
			i += 2
		}
	}
	return clean, nil
}
