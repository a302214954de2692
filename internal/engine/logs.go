package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/cookfarm/cookfarm/pkg/logger"
)

const maxLogLine = 1 << 20

// ReplayLog copies a worker's log file into log line by line, each line
// prefixed with the worker index. A missing file replays nothing.
func ReplayLog(log logger.Logger, index int, path string) (int, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open worker log: %w", err)
	}
	defer file.Close()

	wlog := log.WithWorker(index)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)

	lines := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		wlog.Info(line)
		lines++
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("read worker log: %w", err)
	}
	return lines, nil
}

// ScanMarkers returns the last tail lines of the log at path that contain any
// of markers
func ScanMarkers(path string, markers []string, tail int) ([]string, error) {
	file, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}
	defer file.Close()

	var hits []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLogLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		for _, m := range markers {
			if m != "" && strings.Contains(line, m) {
				hits = append(hits, line)
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return hits, fmt.Errorf("read worker log: %w", err)
	}

	if tail > 0 && len(hits) > tail {
		hits = hits[len(hits)-tail:]
	}
	return hits, nil
}
