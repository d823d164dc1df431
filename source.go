package pace

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// ParseFile reads a timestamp file into a sequence of millisecond offsets.
// Each non-empty line holds one relative timestamp in seconds followed by
// delimiter (DefaultDelimiter if empty), e.g.:
//
//	0.5;
//	1;
//	1,5;
//	2;
//
// A decimal comma is accepted as decimal separator. Values are truncated
// toward zero to whole milliseconds. Entries keep their file order and
// 1-based sequence position; offsets are not required to increase.
//
// Fails with ErrNotFound when the file doesn't exist and with
// *MalformedEntryError when a line's leading field isn't numeric, in which
// case no entries are returned.
func ParseFile(fsys afero.Fs, name, delimiter string) ([]Timestamp, error) {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	f, err := fsys.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("opening timestamp file: %w", err)
	}
	defer f.Close()

	var seq []Timestamp
	sc := bufio.NewScanner(f)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		field, _, _ := strings.Cut(text, delimiter)
		seconds, err := strconv.ParseFloat(
			strings.ReplaceAll(field, ",", "."), 64,
		)
		if err != nil {
			return nil, &MalformedEntryError{Line: line, Field: field}
		}
		seq = append(seq, Timestamp{
			Seq:    uint64(len(seq)) + 1,
			Offset: Duration(int64(seconds*1e3)) * Millisecond,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading timestamp file: %w", err)
	}
	return seq, nil
}
