package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// parsePick turns a 1-based selection such as "1,3-5" or "all" into
// zero-based indexes, in the order given and without duplicates.
func parsePick(raw string, n int) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty selection")
	}
	if strings.EqualFold(raw, "all") {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}

	var out []int
	seen := make(map[int]bool)
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ' ' }) {
		lo, hi, err := parseRange(part)
		if err != nil {
			return nil, err
		}
		if lo < 1 || hi > n || lo > hi {
			return nil, fmt.Errorf("selection %q is outside 1-%d", part, n)
		}
		for i := lo; i <= hi; i++ {
			if !seen[i-1] {
				seen[i-1] = true
				out = append(out, i-1)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("empty selection")
	}
	return out, nil
}

func parseRange(part string) (int, int, error) {
	from, to, isRange := strings.Cut(part, "-")
	lo, err := strconv.Atoi(strings.TrimSpace(from))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid selection %q", part)
	}
	if !isRange {
		return lo, lo, nil
	}
	hi, err := strconv.Atoi(strings.TrimSpace(to))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid selection %q", part)
	}
	return lo, hi, nil
}

// promptPick asks for a selection until a valid one is entered.
func promptPick(in io.Reader, out io.Writer, n int) ([]int, error) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "Select lectures (e.g. 1,3 or 2-4, \"all\", empty to quit): ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil, nil
		}
		picked, err := parsePick(line, n)
		if err == nil {
			return picked, nil
		}
		fmt.Fprintf(out, "%v\n", err)
	}
}
