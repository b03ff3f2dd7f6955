package source

import "strings"

// Kind identifies a backend implementation.
type Kind string

const (
	KindLongmynd   Kind = "longmynd"
	KindCombiTuner Kind = "combituner"
	KindNetStream  Kind = "netstream"
)

// ParseKind normalizes a kind tag. It does not check the tag is registered.
func ParseKind(value string) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(value)))
}

func (k Kind) String() string {
	return string(k)
}
