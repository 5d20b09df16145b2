package suggestion

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"go-namer/internal/model"
)

// Strategy selects how the client reconciles realtime events.
type Strategy int

const (
	// Refetch re-downloads the whole board on every event and ranks it by score.
	Refetch Strategy = iota
	// Incremental prepends new items and patches existing ones in place by id.
	Incremental
)

func (s Strategy) String() string {
	switch s {
	case Refetch:
		return "refetch"
	case Incremental:
		return "incremental"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "refetch":
		return Refetch, nil
	case "incremental":
		return Incremental, nil
	}
	return 0, fmt.Errorf("unknown strategy %q (want refetch or incremental)", s)
}

// order returns the display order for a freshly fetched list.
func (s Strategy) order(items []model.Suggestion) []model.Suggestion {
	out := cloneAll(items)
	if s == Refetch {
		Rank(out)
	}
	return out
}

// Rank sorts by net votes descending, newer first on ties. The sort is stable so
// fully tied items keep server order.
func Rank(items []model.Suggestion) {
	slices.SortStableFunc(items, func(a, b model.Suggestion) int {
		if c := cmp.Compare(b.Net(), a.Net()); c != 0 {
			return c
		}
		return b.Timestamp.Compare(a.Timestamp.Time)
	})
}
