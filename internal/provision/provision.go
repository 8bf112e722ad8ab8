// Package provision lays out the seats of a new event.  Each category has
// its own layout function; adding a category means adding a case to
// layouts, not subclassing anything.
package provision

import (
	"fmt"
	"strconv"

	cr "github.com/cockroachdb/errors"
)

// Category is the kind of event being provisioned.
type Category string

const (
	Movie   Category = "movie"
	Concert Category = "concert"
)

// Bounds on the number of seats per event.
const (
	MinSeats = 10
	MaxSeats = 100000
)

// SeatsPerRow is the width of a movie theatre row.
const SeatsPerRow = 15

var layouts = map[Category]func(total int) []string{
	Movie:   movieLabels,
	Concert: concertLabels,
}

// ErrInvalidLayout is returned for unknown categories and out-of-range totals.
var ErrInvalidLayout = cr.New("invalid seat layout")

// Labels returns the seat labels for total seats of category c.
func Labels(c Category, total int) ([]string, error) {
	layout, ok := layouts[c]
	if !ok {
		return nil, cr.Wrapf(ErrInvalidLayout, "unknown category %q", c)
	}
	if total < MinSeats || total > MaxSeats {
		return nil, cr.Wrapf(ErrInvalidLayout, "total %d outside [%d, %d]", total, MinSeats, MaxSeats)
	}
	return layout(total), nil
}

// movieLabels fills rows of SeatsPerRow: A1..A15, B1.., the last row
// holding the remainder.
func movieLabels(total int) []string {
	out := make([]string, 0, total)
	for i := 0; i < total; i++ {
		out = append(out, indexToRowLabel(i/SeatsPerRow)+strconv.Itoa(i%SeatsPerRow+1))
	}
	return out
}

// concertLabels splits total into 10% VIP, 60% general admission and the
// remainder balcony.
func concertLabels(total int) []string {
	vip := total * 10 / 100
	ga := total * 60 / 100
	bal := total - vip - ga
	out := make([]string, 0, total)
	for _, sec := range []struct {
		prefix string
		n      int
	}{{"VIP", vip}, {"GA", ga}, {"BAL", bal}} {
		for i := 1; i <= sec.n; i++ {
			out = append(out, fmt.Sprintf("%s-%d", sec.prefix, i))
		}
	}
	return out
}

// indexToRowLabel converts a zero-based index to an alphabetical row label like A, B, AA
func indexToRowLabel(i int) string {
	if i < 0 {
		return ""
	}
	var res []rune
	for {
		res = append(res, rune('A'+i%26))
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	for j, k := 0, len(res)-1; j < k; j, k = j+1, k-1 {
		res[j], res[k] = res[k], res[j]
	}
	return string(res)
}
