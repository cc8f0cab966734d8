package market

// Direction represents a directional bias (position direction or trend)
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionNone  Direction = "NONE"
)

// Opposite returns the reverse direction; DirectionNone maps to itself
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionNone
	}
}

// IsValidDirection checks if a direction string is a valid Direction
func IsValidDirection(direction string) bool {
	switch Direction(direction) {
	case DirectionLong, DirectionShort, DirectionNone:
		return true
	default:
		return false
	}
}
