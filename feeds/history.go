package feeds

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/papersim/types"
)

// On-disk history format, one entry per instrument. Timestamps are RFC3339,
// prices and volumes decimal strings.
type historyFile map[string]historyEntry

type historyEntry struct {
	Ticks    []tickRecord `json:"ticks,omitempty"`
	Snapshot *tickRecord  `json:"snapshot,omitempty"`
}

type tickRecord struct {
	Timestamp time.Time       `json:"ts"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume,omitempty"`
}

// LoadHistoryFile reads a JSON tick history into per-instrument histories.
func LoadHistoryFile(path string) (map[string]History, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}

	var file historyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse history file: %w", err)
	}

	out := make(map[string]History, len(file))
	total := 0
	for inst, entry := range file {
		h := History{}
		for _, r := range entry.Ticks {
			h.Ticks = append(h.Ticks, r.tick(inst))
		}
		if entry.Snapshot != nil {
			t := entry.Snapshot.tick(inst)
			h.Snapshot = &t
		}
		out[inst] = h
		total += len(h.Ticks)
	}

	log.Info().
		Str("path", path).
		Int("instruments", len(out)).
		Int("ticks", total).
		Msg("📂 History loaded")
	return out, nil
}

// SaveHistoryFile writes per-instrument histories as JSON, instruments in
// sorted order for stable output.
func SaveHistoryFile(path string, byInstrument map[string]History) error {
	file := make(historyFile, len(byInstrument))
	for inst, h := range byInstrument {
		entry := historyEntry{}
		for _, t := range h.Ticks {
			entry.Ticks = append(entry.Ticks, record(t))
		}
		if h.Snapshot != nil {
			r := record(*h.Snapshot)
			entry.Snapshot = &r
		}
		file[inst] = entry
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write history file: %w", err)
	}

	insts := make([]string, 0, len(file))
	for inst := range file {
		insts = append(insts, inst)
	}
	sort.Strings(insts)
	log.Info().Str("path", path).Strs("instruments", insts).Msg("💾 History saved")
	return nil
}

func (r tickRecord) tick(instrument string) types.Tick {
	return types.Tick{
		Timestamp:  r.Timestamp,
		Instrument: instrument,
		Price:      r.Price,
		Volume:     r.Volume,
	}
}

func record(t types.Tick) tickRecord {
	return tickRecord{Timestamp: t.Timestamp, Price: t.Price, Volume: t.Volume}
}
