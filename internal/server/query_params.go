package server

import (
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
)

func parseIntDefault(raw string, def int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return parsed
}

func snowflakeFromString(raw string) (snowflake.ID, error) {
	return snowflake.ParseString(strings.TrimSpace(raw))
}
