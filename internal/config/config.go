// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the watcher.
type Config struct {
	BotToken       string
	ChannelID      int64 // destination for task notifications
	OperatorChatID int64 // destination for diagnostics; defaults to ChannelID

	RedisURL    string
	RedisTaskDB int    // overrides the DB index from REDIS_URL when set
	DatabaseURL string // optional; enables the Postgres archive

	QueriesFile   string
	ReloadQueries bool // re-read the queries file on every poll cycle

	ItemDelay  time.Duration // pause after each processed item
	CycleDelay time.Duration // pause after each full pass over the query set

	SearchLat    string
	SearchLng    string
	SearchRadius string

	EnrichMaxAttempts int // detail-fetch failures before a task is given up
}

// Load reads environment variables and returns a validated Config.
func Load() (*Config, error) {
	token := os.Getenv("BOT_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}

	channelID, err := requiredInt64("CHANNEL_ID")
	if err != nil {
		return nil, err
	}

	operatorID := channelID
	if s := os.Getenv("OPERATOR_CHAT_ID"); s != "" {
		operatorID, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("OPERATOR_CHAT_ID must be an integer, got %q", s)
		}
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	taskDB := 0
	if s := os.Getenv("REDIS_TASKS_DB"); s != "" {
		taskDB, err = strconv.Atoi(s)
		if err != nil || taskDB < 0 {
			return nil, fmt.Errorf("REDIS_TASKS_DB must be a non-negative integer, got %q", s)
		}
	}

	itemDelay, err := duration("ITEM_DELAY", 3*time.Second)
	if err != nil {
		return nil, err
	}
	cycleDelay, err := duration("CYCLE_DELAY", time.Second)
	if err != nil {
		return nil, err
	}

	maxAttempts := 5
	if s := os.Getenv("ENRICH_MAX_ATTEMPTS"); s != "" {
		maxAttempts, err = strconv.Atoi(s)
		if err != nil || maxAttempts < 1 {
			return nil, fmt.Errorf("ENRICH_MAX_ATTEMPTS must be a positive integer, got %q", s)
		}
	}

	queriesFile := os.Getenv("QUERIES_FILE")
	if queriesFile == "" {
		queriesFile = "queries.txt"
	}

	reload := true
	if s := os.Getenv("QUERIES_RELOAD"); s != "" {
		reload, err = strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("QUERIES_RELOAD must be a boolean, got %q", s)
		}
	}

	return &Config{
		BotToken:          token,
		ChannelID:         channelID,
		OperatorChatID:    operatorID,
		RedisURL:          redisURL,
		RedisTaskDB:       taskDB,
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		QueriesFile:       queriesFile,
		ReloadQueries:     reload,
		ItemDelay:         itemDelay,
		CycleDelay:        cycleDelay,
		SearchLat:         getenvDefault("SEARCH_LAT", "55.753215"),
		SearchLng:         getenvDefault("SEARCH_LNG", "37.622504"),
		SearchRadius:      getenvDefault("SEARCH_RADIUS", "50"),
		EnrichMaxAttempts: maxAttempts,
	}, nil
}

// LoadQueries reads the line-oriented queries file. Lines are trimmed of
// surrounding whitespace; blank lines are skipped. Order is preserved.
func LoadQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open queries file: %w", err)
	}
	defer f.Close()

	var queries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		q := strings.TrimSpace(scanner.Text())
		if q == "" {
			continue
		}
		queries = append(queries, q)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read queries file: %w", err)
	}

	return queries, nil
}

func requiredInt64(name string) (int64, error) {
	s := os.Getenv(name)
	if s == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", name, s)
	}
	return v, nil
}

func duration(name string, fallback time.Duration) (time.Duration, error) {
	s := os.Getenv(name)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a duration like \"3s\", got %q", name, s)
	}
	return d, nil
}

func getenvDefault(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
