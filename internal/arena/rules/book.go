package rules

import (
	"bufio"
	"math/rand/v2"
	"os"
	"strings"

	appErr "botarena/pkg/errors"
)

// StandardStart is the standard initial position.
const StandardStart = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// OpeningBook is a fixed list of starting positions.
type OpeningBook struct {
	positions []string
}

// LoadOpeningBook reads one position per line. Blank lines and '#' comments are skipped.
// A missing path yields an empty book.
func LoadOpeningBook(path string, oracle Oracle) (*OpeningBook, error) {
	if path == "" {
		return &OpeningBook{}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &OpeningBook{}, nil
		}
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "open opening book %s", path)
	}
	defer f.Close()

	var positions []string
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := oracle.Validate(text); err != nil {
			return nil, appErr.Wrapf(err, appErr.InvalidPosition, "opening book %s line %d", path, line)
		}
		positions = append(positions, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidFormat, "read opening book %s", path)
	}
	return &OpeningBook{positions: positions}, nil
}

// NewOpeningBook wraps an in-memory list.
func NewOpeningBook(positions ...string) *OpeningBook {
	return &OpeningBook{positions: positions}
}

func (b *OpeningBook) Len() int {
	if b == nil {
		return 0
	}
	return len(b.positions)
}

// Pick draws a position uniformly, or StandardStart when the book is empty.
func (b *OpeningBook) Pick(r *rand.Rand) string {
	if b.Len() == 0 {
		return StandardStart
	}
	if r == nil {
		return b.positions[rand.IntN(len(b.positions))]
	}
	return b.positions[r.IntN(len(b.positions))]
}
