// Package blocking turns detection results into simulated blocking rules. The
// rules are only written out as text; nothing is ever enforced.
package blocking

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	RTBHHeader      = "=== RTBH Simulation Rules ==="
	RateLimitHeader = "=== Rate-Limiting / ACL Rules ==="
	RateLimit       = "5pps"

	rtbhPrefix      = "rtbh_rules"
	rateLimitPrefix = "rate_limit_rules"
)

func RTBHPath(dir string, rank int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_rank%d.txt", rtbhPrefix, rank))
}

func RateLimitPath(dir string, rank int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_rank%d.txt", rateLimitPrefix, rank))
}

// IsRuleFile reports whether name is one of the generated rule files.
func IsRuleFile(name string) bool {
	return strings.Contains(name, rtbhPrefix) || strings.Contains(name, rateLimitPrefix)
}

// LoadDetected reads one detection result file and adds the source and then
// the destination address of every row to set.
func LoadDetected(path string, set *IPSet) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read header: %w", err)
	}
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if len(record) > 0 {
			set.Add(strings.TrimSpace(record[0]))
		}
		if len(record) > 1 {
			set.Add(strings.TrimSpace(record[1]))
		}
	}
}

// WriteRules writes the black-hole and rate-limit rule files for rank.
func WriteRules(dir string, rank int, ips []string) error {
	if err := writeRuleFile(RTBHPath(dir, rank), RTBHHeader, ips, func(ip string) string {
		return "BLACKHOLE " + ip
	}); err != nil {
		return err
	}
	return writeRuleFile(RateLimitPath(dir, rank), RateLimitHeader, ips, func(ip string) string {
		return "ACL_DENY " + ip + " " + RateLimit
	})
}

func writeRuleFile(path, header string, ips []string, rule func(string) string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create rule file: %w", err)
	}
	w := bufio.NewWriter(f)
	fmt.Fprintln(w, header)
	for _, ip := range ips {
		fmt.Fprintln(w, rule(ip))
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadBlocked adds the address of every rule line in path to set. The first
// line is the banner; the address is the second whitespace-separated token.
func LoadBlocked(path string, set *IPSet) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		tokens := strings.Fields(sc.Text())
		if len(tokens) >= 2 {
			set.Add(tokens[1])
		}
	}
	return sc.Err()
}
