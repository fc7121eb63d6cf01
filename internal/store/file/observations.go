package file

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

// ObservationStore keeps one CSV file per grouping key under a base
// directory. Columns: target, per-slot state values, availability flag,
// last-checked timestamp. Groups load lazily the first time they are touched
// and the file is rewritten whenever an observation changes.
type ObservationStore struct {
	baseDir string

	mu     sync.Mutex
	groups map[watch.GroupKey]map[string]watch.Observation
}

// NewObservationStore creates the base directory if needed.
func NewObservationStore(baseDir string) (*ObservationStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("observation base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("create observation directory: %w", err)
	}
	return &ObservationStore{
		baseDir: baseDir,
		groups:  make(map[watch.GroupKey]map[string]watch.Observation),
	}, nil
}

// Last returns the prior observation for a target within a group.
func (s *ObservationStore) Last(_ context.Context, group watch.GroupKey, target string) (watch.Observation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked(group)
	if err != nil {
		return watch.Observation{}, false, err
	}
	obs, ok := records[target]
	return obs, ok, nil
}

// Save upserts the observation and rewrites the group's file.
func (s *ObservationStore) Save(_ context.Context, obs watch.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked(obs.Group)
	if err != nil {
		return err
	}
	records[obs.Target] = obs
	return s.writeLocked(obs.Group, records)
}

func (s *ObservationStore) loadLocked(group watch.GroupKey) (map[string]watch.Observation, error) {
	if records, ok := s.groups[group]; ok {
		return records, nil
	}
	records := make(map[string]watch.Observation)

	data, err := os.ReadFile(s.groupPath(group))
	if err != nil {
		if os.IsNotExist(err) {
			s.groups[group] = records
			return records, nil
		}
		return nil, fmt.Errorf("read observations for %s: %w", group, err)
	}

	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse observations for %s: %w", group, err)
	}
	for _, row := range rows {
		obs, err := rowToObservation(group, row)
		if err != nil {
			return nil, err
		}
		records[obs.Target] = obs
	}
	s.groups[group] = records
	return records, nil
}

func (s *ObservationStore) writeLocked(group watch.GroupKey, records map[string]watch.Observation) error {
	targets := make([]string, 0, len(records))
	for target := range records {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	var builder strings.Builder
	writer := csv.NewWriter(&builder)
	for _, target := range targets {
		if err := writer.Write(observationToRow(records[target])); err != nil {
			return fmt.Errorf("encode observation row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush observation rows: %w", err)
	}

	if err := os.WriteFile(s.groupPath(group), []byte(builder.String()), 0o600); err != nil {
		return fmt.Errorf("write observations for %s: %w", group, err)
	}
	return nil
}

func (s *ObservationStore) groupPath(group watch.GroupKey) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, string(group))
	return filepath.Join(s.baseDir, name+".csv")
}

func observationToRow(obs watch.Observation) []string {
	row := make([]string, 0, len(obs.Slots)+3)
	row = append(row, obs.Target)
	row = append(row, obs.Slots...)
	row = append(row, strconv.FormatBool(obs.Available), obs.CheckedAt.UTC().Format(time.RFC3339))
	return row
}

func rowToObservation(group watch.GroupKey, row []string) (watch.Observation, error) {
	if len(row) < 3 {
		return watch.Observation{}, fmt.Errorf("observation row too short: %d fields", len(row))
	}
	available, err := strconv.ParseBool(row[len(row)-2])
	if err != nil {
		return watch.Observation{}, fmt.Errorf("parse availability flag: %w", err)
	}
	checkedAt, err := time.Parse(time.RFC3339, row[len(row)-1])
	if err != nil {
		return watch.Observation{}, fmt.Errorf("parse checked-at timestamp: %w", err)
	}
	var slots []string
	if len(row) > 3 {
		slots = append(slots, row[1:len(row)-2]...)
	}
	return watch.Observation{
		Target:    row[0],
		Group:     group,
		Slots:     slots,
		Available: available,
		CheckedAt: checkedAt,
	}, nil
}
