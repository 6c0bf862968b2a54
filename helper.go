package orm

import (
	"fmt"
	"strings"
)

// ConvertSQLCommands splits the lines of a .sql file into statements. Comments are
// dropped and semicolons inside string literals do not end a statement.
//
//	commands := ConvertSQLCommands(strings.Split(string(content), "\n"))
func ConvertSQLCommands(lines []string) []string {
	var commands []string
	var current strings.Builder

	for _, chunk := range splitSQL(strings.Join(lines, "\n")) {
		if chunk.literal {
			if strings.HasPrefix(chunk.text, "--") || strings.HasPrefix(chunk.text, "/*") {
				current.WriteString(" ")
				continue
			}
			current.WriteString(chunk.text)
			continue
		}
		parts := strings.Split(chunk.text, ";")
		for i, part := range parts {
			current.WriteString(part)
			if i == len(parts)-1 {
				break
			}
			if cmd := normalizeCommand(current.String()); cmd != "" {
				commands = append(commands, cmd)
			}
			current.Reset()
		}
	}
	if cmd := normalizeCommand(current.String()); cmd != "" {
		commands = append(commands, cmd)
	}
	return commands
}

// normalizeCommand collapses line breaks and indentation into single spaces.
func normalizeCommand(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Get all sum timing
func TotalTimeElapsedInSecond(reses []BasicSQLResult) float64 {
	sum := 0.0
	for i := range reses {
		sum += reses[i].Timing
	}
	return sum
}

func SecondToMs(s float64) float64 {
	return s * 1000
}

func SecondToMsString(s float64) string {
	return fmt.Sprintf("%.5f", SecondToMs(s))
}
