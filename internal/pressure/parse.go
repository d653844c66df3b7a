// Package pressure turns lines from the serial pressure transducer into
// timestamped pressure samples.
package pressure

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/banshee-data/tube.report/internal/sample"
)

var numberPattern = regexp.MustCompile(`[-+]?\d*\.\d+|[-+]?\d+`)

// ParseLine extracts the last numeric token of a line. Invalid UTF-8 is
// dropped before matching; a line without digits yields an absent value.
func ParseLine(line []byte) sample.Optional {
	text := strings.ToValidUTF8(string(line), "")
	tokens := numberPattern.FindAllString(text, -1)
	if len(tokens) == 0 {
		return sample.Absent()
	}
	v, err := strconv.ParseFloat(tokens[len(tokens)-1], 64)
	if err != nil {
		return sample.Absent()
	}
	return sample.Some(v)
}
