package component

import (
	"fmt"
	"strings"

	"github.com/c360/mediaflow/errors"
)

// Role describes what a component does in a graph. A component may declare
// several.
type Role int

const (
	RoleUnknown Role = iota
	RoleAny
	RoleSource
	RoleSink
	RoleSplitter
	RoleScheduler
	RoleMixer
	RoleEncoder
	RoleProcessor
)

var roleNames = map[Role]string{
	RoleUnknown:   "unknown",
	RoleAny:       "any",
	RoleSource:    "source",
	RoleSink:      "sink",
	RoleSplitter:  "splitter",
	RoleScheduler: "scheduler",
	RoleMixer:     "mixer",
	RoleEncoder:   "encoder",
	RoleProcessor: "processor",
}

func (r Role) String() string {
	if s, ok := roleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// ParseRole is the inverse of Role.String, ignoring case.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if strings.EqualFold(name, s) {
			return r, nil
		}
	}
	return RoleUnknown, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "Role", "ParseRole",
		"unknown role %q", s)
}

// StreamType is the kind of content a port carries.
type StreamType int

const (
	StreamUnknown StreamType = iota
	StreamVideo
	StreamAudio
	StreamImage
	StreamText
	StreamClock
	StreamBinary
	StreamOther
)

var streamTypeNames = map[StreamType]string{
	StreamUnknown: "unknown",
	StreamVideo:   "video",
	StreamAudio:   "audio",
	StreamImage:   "image",
	StreamText:    "text",
	StreamClock:   "clock",
	StreamBinary:  "binary",
	StreamOther:   "other",
}

func (t StreamType) String() string {
	if s, ok := streamTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("stream(%d)", int(t))
}

// ParseStreamType is the inverse of StreamType.String, ignoring case.
func ParseStreamType(s string) (StreamType, error) {
	for t, name := range streamTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return StreamUnknown, errors.Newf(errors.ErrorInvalid, errors.ErrValidation, "StreamType",
		"ParseStreamType", "unknown stream type %q", s)
}

// Direction tells whether a port produces or consumes buffers.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

func (d Direction) String() string {
	if d == DirectionOutput {
		return "output"
	}
	return "input"
}
