// Package streamid decodes the video dimensions that conference clients embed
// in stream names.
//
// Publishers name their stream "<width>x<height><participant id>", optionally
// followed by "-<timestamp>". The participant id is appended without a
// separator, so the dimension segment is found by cutting at the last
// occurrence of the id.
package streamid

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"confvideo/internal/core/domain"
)

// NoRatio is returned when a stream name carries no usable dimensions.
const NoRatio = -1.0

var (
	timestampedForm = regexp.MustCompile(`^\d+x\d+-\d+$`)
	dimensionsForm  = regexp.MustCompile(`^\d+x\d+$`)
)

type Dimensions struct {
	Width  int
	Height int
}

func (d Dimensions) AspectRatio() float64 {
	if d.Height <= 0 {
		return NoRatio
	}
	return float64(d.Width) / float64(d.Height)
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Parse extracts the dimensions a stream name was published with. It reports
// false for names that do not follow the convention for participantID.
func Parse(participantID domain.ParticipantID, name domain.StreamName) (Dimensions, bool) {
	id := strconv.Itoa(int(participantID))
	s := string(name)
	if s == "" || !strings.Contains(s, id) {
		return Dimensions{}, false
	}

	if timestampedForm.MatchString(s) {
		s = s[:strings.Index(s, "-")]
	}
	if !dimensionsForm.MatchString(s) {
		return Dimensions{}, false
	}

	// the id may only have matched inside the dropped timestamp
	end := strings.LastIndex(s, id)
	if end < 0 {
		return Dimensions{}, false
	}

	w, h, ok := strings.Cut(s[:end], "x")
	if !ok {
		return Dimensions{}, false
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Dimensions{}, false
	}
	height, err := strconv.Atoi(h)
	if err != nil || height == 0 {
		return Dimensions{}, false
	}

	return Dimensions{Width: width, Height: height}, true
}

// DecodeAspectRatio returns width/height for the stream name, or NoRatio.
func DecodeAspectRatio(participantID domain.ParticipantID, name domain.StreamName) float64 {
	dims, ok := Parse(participantID, name)
	if !ok {
		return NoRatio
	}
	return dims.AspectRatio()
}

// Format builds the stream name a participant publishes for the given
// dimensions. A zero timestamp omits the suffix.
func Format(dims Dimensions, participantID domain.ParticipantID, timestamp int64) domain.StreamName {
	name := fmt.Sprintf("%dx%d%d", dims.Width, dims.Height, participantID)
	if timestamp > 0 {
		name = fmt.Sprintf("%s-%d", name, timestamp)
	}
	return domain.StreamName(name)
}
