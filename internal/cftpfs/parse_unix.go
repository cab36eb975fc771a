package cftpfs

import (
	"strconv"
	"strings"
	"time"
)

// parseUnixLine parses a line in the classic `ls -l` style emitted by a
// Unix FTP server, e.g.:
//
//	drwxr-xr-x 2 u g 4096 Jan  1 12:00 dir
//	-rw-r--r-- 1 u g 1234 Jan  1  2023 file.txt
func parseUnixLine(line string) (Item, bool) {
	var kind ItemKind
	switch line[0] {
	case 'd':
		kind = ItemDir
	case 'l':
		kind = ItemLink
	case '-':
		kind = ItemFile
	default:
		return Item{}, false
	}

	// permissions, links, owner, group, size, month, day, time-or-year
	fields, rest, ok := splitFields(line, 8)
	if !ok {
		return Item{}, false
	}
	sizeStr, month, day, when := fields[4], fields[5], fields[6], fields[7]

	size, err := strconv.ParseUint(sizeStr, 10, 64)
	if err != nil {
		return Item{}, false
	}

	mon := monthIndex(month)
	if mon < 0 {
		return Item{}, false
	}
	dom, err := strconv.Atoi(day)
	if err != nil {
		return Item{}, false
	}

	var year, hour, minute int
	if strings.Contains(when, ":") {
		hm := strings.SplitN(when, ":", 2)
		if len(hm) != 2 {
			return Item{}, false
		}
		hour, err = strconv.Atoi(hm[0])
		if err != nil {
			return Item{}, false
		}
		minute, err = strconv.Atoi(hm[1])
		if err != nil {
			return Item{}, false
		}
		year = time.Now().Year()
	} else {
		year, err = strconv.Atoi(when)
		if err != nil {
			return Item{}, false
		}
	}

	name := rest
	if idx := strings.Index(name, " -> "); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimRight(name, "\r\n")
	if name == "" {
		return Item{}, false
	}

	return Item{
		Name:  name,
		Kind:  kind,
		Size:  size,
		MTime: time.Date(year, time.Month(mon+1), dom, hour, minute, 0, 0, time.Local),
	}, true
}
