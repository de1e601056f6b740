package export

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TagDate is the day an export tag was created.
type TagDate struct {
	Year  int
	Month int
	Day   int
}

// DateOf returns the tag date of t in its own location.
func DateOf(t time.Time) TagDate {
	return TagDate{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

// ParseTagDate parses YYYY.MM.DD. Single-digit months and days are accepted.
func ParseTagDate(raw string) (TagDate, error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 3 {
		return TagDate{}, fmt.Errorf("tag date %q: want YYYY.MM.DD", raw)
	}
	var nums [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return TagDate{}, fmt.Errorf("tag date %q: want YYYY.MM.DD", raw)
		}
		nums[i] = n
	}
	d := TagDate{Year: nums[0], Month: nums[1], Day: nums[2]}
	check := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	if len(parts[0]) != 4 || DateOf(check) != d {
		return TagDate{}, fmt.Errorf("tag date %q is not a calendar date", raw)
	}
	return d, nil
}

func (d TagDate) String() string {
	return fmt.Sprintf("%04d.%02d.%02d", d.Year, d.Month, d.Day)
}

// RenderTag fills the {year} {month} {day} and {page} placeholders of format.
// Months and days are zero-padded to two digits.
func RenderTag(format string, date TagDate, page int) string {
	return strings.NewReplacer(
		"{year}", fmt.Sprintf("%04d", date.Year),
		"{month}", fmt.Sprintf("%02d", date.Month),
		"{day}", fmt.Sprintf("%02d", date.Day),
		"{page}", strconv.Itoa(page),
	).Replace(format)
}

// EscapeTag escapes the hierarchy separator, which is an operator in search
// queries.
func EscapeTag(tag string) string {
	return strings.ReplaceAll(tag, "|", `\|`)
}

// TagQuery renders the item query for tag from queryFormat's {export_tag}
// placeholder.
func TagQuery(queryFormat, tag string) string {
	return strings.ReplaceAll(queryFormat, "{export_tag}", EscapeTag(tag))
}

var (
	placeholderRE       = regexp.MustCompile(`\{(year|month|day|page)\}`)
	placeholderPatterns = map[string]string{
		"year":  `\d{4}`,
		"month": `\d{1,2}`,
		"day":   `\d{1,2}`,
		"page":  `\d+`,
	}
)

// TagPattern compiles a regular expression matching every tag format can
// render. Literal text in the format matches only itself.
func TagPattern(format string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	last := 0
	for _, loc := range placeholderRE.FindAllStringSubmatchIndex(format, -1) {
		b.WriteString(regexp.QuoteMeta(format[last:loc[0]]))
		b.WriteString(placeholderPatterns[format[loc[2]:loc[3]]])
		last = loc[1]
	}
	b.WriteString(regexp.QuoteMeta(format[last:]))
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("tag pattern for %q: %w", format, err)
	}
	return re, nil
}

// Subfolder renders the export subfolder for a page.
func Subfolder(format string, page int) string {
	return strings.ReplaceAll(format, "{id}", strconv.Itoa(page))
}
