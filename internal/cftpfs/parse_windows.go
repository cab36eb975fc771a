package cftpfs

import (
	"strconv"
	"strings"
	"time"
)

// parseWindowsLine parses a line in the style emitted by Microsoft's FTP
// service / IIS DIR listing, e.g.:
//
//	01-01-24  12:00PM       <DIR>          Data
//	03-15-2023  09:41AM             1234 readme.txt
func parseWindowsLine(line string) (Item, bool) {
	tok, i, ok := nextToken(line, 0)
	if !ok {
		return Item{}, false
	}
	dateParts := strings.Split(tok, "-")
	if len(dateParts) != 3 {
		return Item{}, false
	}
	mon, err := strconv.Atoi(dateParts[0])
	if err != nil || mon < 1 || mon > 12 {
		return Item{}, false
	}
	dom, err := strconv.Atoi(dateParts[1])
	if err != nil {
		return Item{}, false
	}
	year, err := strconv.Atoi(dateParts[2])
	if err != nil {
		return Item{}, false
	}
	switch {
	case len(dateParts[2]) == 2 && year < 50:
		year += 2000
	case len(dateParts[2]) == 2:
		year += 1900
	}

	tok, i, ok = nextToken(line, i)
	if !ok {
		return Item{}, false
	}
	hh, mm, ampm, ok := splitClock(tok)
	if !ok {
		return Item{}, false
	}
	if ampm == "" {
		// AM/PM may have been left as its own token.
		if peek, next, pok := nextToken(line, i); pok {
			up := strings.ToUpper(peek)
			if up == "AM" || up == "PM" {
				ampm = up
				i = next
			}
		}
	}
	switch strings.ToUpper(ampm) {
	case "PM":
		if hh != 12 {
			hh += 12
		}
	case "AM":
		if hh == 12 {
			hh = 0
		}
	}

	tok, i, ok = nextToken(line, i)
	if !ok {
		return Item{}, false
	}
	var kind ItemKind
	var size uint64
	if strings.EqualFold(tok, "<DIR>") {
		kind = ItemDir
		size = 0
	} else {
		n, err := strconv.ParseUint(tok, 10, 64)
		if err != nil {
			return Item{}, false
		}
		kind = ItemFile
		size = n
	}

	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	name := strings.TrimRight(line[i:], " \t\r\n")
	if name == "" {
		return Item{}, false
	}

	return Item{
		Name:  name,
		Kind:  kind,
		Size:  size,
		MTime: time.Date(year, time.Month(mon), dom, hh, mm, 0, 0, time.Local),
	}, true
}

// nextToken returns the next whitespace-delimited token starting at or
// after index start, along with the index just past it.
func nextToken(line string, start int) (tok string, next int, ok bool) {
	i := start
	for i < len(line) && (line[i] == ' ' || line[i] == '\t') {
		i++
	}
	if i >= len(line) {
		return "", i, false
	}
	begin := i
	for i < len(line) && line[i] != ' ' && line[i] != '\t' {
		i++
	}
	return line[begin:i], i, true
}

// splitClock parses "HH:MM" optionally followed directly by "AM"/"PM".
func splitClock(tok string) (hh, mm int, ampm string, ok bool) {
	idx := strings.Index(tok, ":")
	if idx < 0 {
		return 0, 0, "", false
	}
	hh, err := strconv.Atoi(tok[:idx])
	if err != nil {
		return 0, 0, "", false
	}
	rest := tok[idx+1:]
	j := 0
	for j < len(rest) && rest[j] >= '0' && rest[j] <= '9' {
		j++
	}
	if j == 0 {
		return 0, 0, "", false
	}
	mm, err = strconv.Atoi(rest[:j])
	if err != nil {
		return 0, 0, "", false
	}
	return hh, mm, strings.ToUpper(rest[j:]), true
}
