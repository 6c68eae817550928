package models

// ChangeKind tells the host how a dispatched record relates to what it already holds.
type ChangeKind int

const (
	ChangeNew ChangeKind = iota
	ChangeUpdate
	ChangeDelete
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "new"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Level is the severity of a message forwarded to the host.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelWarn:
		return "warn"
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// Side of an order or trade.
type Side string

const (
	SideBuy     Side = "B"
	SideSell    Side = "S"
	SideUnknown Side = ""
)

// Sign returns +1 for buys, -1 for sells and 0 otherwise.
func (s Side) Sign() float64 {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}
