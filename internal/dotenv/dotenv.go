package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Load applies KEY=VALUE pairs from the first dotenv-style file that exists
// among paths. Variables already present in the process environment win.
// A missing file is not an error.
func Load(paths ...string) error {
	for _, path := range paths {
		applied, err := loadFile(path)
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
	}
	return nil
}

func loadFile(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("open env file %q: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, val, ok := parseLine(scanner.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return false, fmt.Errorf("set env %q from %q: %w", key, path, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("scan env file %q: %w", path, err)
	}
	return true, nil
}

func parseLine(raw string) (key, val string, ok bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")
	idx := strings.Index(line, "=")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	if key == "" {
		return "", "", false
	}
	val = strings.TrimSpace(line[idx+1:])
	if len(val) >= 2 {
		if strings.HasPrefix(val, `"`) && strings.HasSuffix(val, `"`) {
			val = val[1 : len(val)-1]
		} else if strings.HasPrefix(val, "'") && strings.HasSuffix(val, "'") {
			val = val[1 : len(val)-1]
		}
	}
	return key, val, true
}
