package model

import "fmt"

// Side is the direction of a position.
type Side int

const (
	Long Side = iota + 1
	Short
)

func (s Side) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// ParseSide is the inverse of Side.String.
func ParseSide(s string) (Side, error) {
	switch s {
	case "LONG", "BUY", "buy":
		return Long, nil
	case "SHORT", "SELL", "sell":
		return Short, nil
	}
	return 0, fmt.Errorf("unknown side %q", s)
}
