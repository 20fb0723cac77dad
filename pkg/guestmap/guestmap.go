// Package guestmap parses /proc/<pid>/maps-format text captured inside
// the guest into the virtual-region list the flattener consumes.
package guestmap

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
)

// Region is one parsed maps line.
type Region struct {
	Start  uint64
	End    uint64
	Perms  string
	Offset uint64
	Name   string
}

func (r *Region) String() string {
	return fmt.Sprintf("%016x-%016x %s %08x %s", r.Start, r.End, r.Perms, r.Offset, r.Name)
}

// Readable reports whether the region is mapped readable.
func (r *Region) Readable() bool { return len(r.Perms) > 0 && r.Perms[0] == 'r' }

// ParseFile parses a saved maps capture.
func ParseFile(path string) ([]Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read maps file %s: %w", path, err)
	}
	defer f.Close()
	return parse(bufio.NewScanner(f)), nil
}

// ParseText parses maps-format text already in memory (e.g. fetched over
// a guest channel).
func ParseText(text string) []Region {
	return parse(bufio.NewScanner(strings.NewReader(text)))
}

func parse(scanner *bufio.Scanner) []Region {
	var ret []Region
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		r, ok := parseLine(line)
		if !ok {
			glog.V(2).Infof("Skipping unparsable maps line: %q", line)
			continue
		}
		ret = append(ret, r)
	}
	return ret
}

// parseLine decodes "start-end perms offset dev inode [pathname]".
func parseLine(line string) (Region, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return Region{}, false
	}
	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return Region{}, false
	}
	var r Region
	var err error
	if r.Start, err = strconv.ParseUint(lo, 16, 64); err != nil {
		return Region{}, false
	}
	if r.End, err = strconv.ParseUint(hi, 16, 64); err != nil || r.End < r.Start {
		return Region{}, false
	}
	r.Perms = fields[1]
	if r.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
		return Region{}, false
	}
	if len(fields) > 5 {
		r.Name = fields[5]
	}
	return r, true
}
