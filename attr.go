package narwhal

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	attrRegexp       = regexp.MustCompile(`(@cache-ttl|@cache-max-rows) (\d+)`)
	tablesRegexp     = regexp.MustCompile(`@cache-tables ([\w.]+(?:,[\w.]+)*)`)
	invalidateRegexp = regexp.MustCompile(`@invalidate-tables ([\w.]+(?:,[\w.]+)*)`)
)

type attributes struct {
	ttl     int
	maxRows int
	tables  []string
}

// getAttrs parses the @cache-* comment attributes of a read statement.
// Both @cache-ttl and @cache-max-rows must be present for the query to be
// cached at all; @cache-tables is optional and names the tables the query
// reads so that writes to them invalidate the cached result. A query with no
// @cache-tables attribute is cached under TTL alone.
func getAttrs(query string) *attributes {
	matches := attrRegexp.FindAllStringSubmatch(query, 2)
	if len(matches) != 2 {
		return nil
	}

	var attrs attributes
	for _, match := range matches {
		if len(match) != 3 {
			return nil
		}
		switch match[1] {
		case "@cache-ttl":
			ttl, _ := strconv.Atoi(match[2])
			attrs.ttl = ttl
		case "@cache-max-rows":
			maxRows, _ := strconv.Atoi(match[2])
			attrs.maxRows = maxRows
		}
	}

	attrs.tables = splitTables(tablesRegexp.FindStringSubmatch(query))

	return &attrs
}

// getInvalidateTables parses the @invalidate-tables comment attribute of a
// write statement. A write with no attribute is a raw write and follows the
// classifier's raw-write policy.
func getInvalidateTables(query string) []string {
	return splitTables(invalidateRegexp.FindStringSubmatch(query))
}

func splitTables(match []string) []string {
	if len(match) != 2 {
		return nil
	}

	parts := strings.Split(match[1], ",")
	tables := parts[:0]
	for _, p := range parts {
		if p != "" {
			tables = append(tables, p)
		}
	}

	return tables
}
