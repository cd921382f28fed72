package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"
)

// DefaultHistoryPath is where completed bookings are appended.
const DefaultHistoryPath = "bookings.json"

// Record is one finished booking.
type Record struct {
	Outcome   string    `json:"outcome"`
	ProdID    string    `json:"prod_id"`
	DateIndex int       `json:"date_index"`
	TimeIndex int       `json:"time_index"`
	At        time.Time `json:"at"`
}

// History is a JSON array of records kept in one file.
type History struct {
	Path string

	mu sync.Mutex
}

// NewHistory returns a history stored at path.
func NewHistory(path string) *History {
	return &History{Path: path}
}

// Load returns every record, or none when the file does not exist yet.
func (h *History) Load() ([]Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load()
}

func (h *History) load() ([]Record, error) {
	data, err := os.ReadFile(h.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", h.Path, err)
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", h.Path, err)
	}
	return recs, nil
}

// Append adds rec to the end of the file.
func (h *History) Append(rec Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	recs, err := h.load()
	if err != nil {
		return err
	}
	recs = append(recs, rec)
	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(h.Path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", h.Path, err)
	}
	return nil
}

// Clear removes every record.
func (h *History) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := os.WriteFile(h.Path, []byte("[]"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", h.Path, err)
	}
	return nil
}
