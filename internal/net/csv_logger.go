package net

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CSVLogger appends one row per epoch to a CSV history file. Every run gets
// its own id so several runs can share a file.
type CSVLogger struct {
	BaseCallback
	Filename string
	Name     string
	RunID    string

	file   *os.File
	writer *csv.Writer
	start  time.Time
}

// NewCSVLogger creates a new CSVLogger for the model called name.
func NewCSVLogger(filename, name string) *CSVLogger {
	return &CSVLogger{
		Filename: filename,
		Name:     name,
		RunID:    uuid.NewString(),
	}
}

// Open opens the history file, writing the header if the file is new.
// OnEpochEnd opens it on first use.
func (c *CSVLogger) Open() error {
	if c.file != nil {
		return nil
	}
	file, err := os.OpenFile(c.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrap(err, "csv logger")
	}
	c.file = file
	c.writer = csv.NewWriter(file)
	c.start = time.Now()

	if info, err := file.Stat(); err == nil && info.Size() == 0 {
		c.writer.Write([]string{"run_id", "model", "epoch", "loss", "time_seconds"})
		c.writer.Flush()
	}
	return c.writer.Error()
}

func (c *CSVLogger) OnEpochEnd(epoch int, loss float64, m Model) error {
	if c.writer == nil {
		if err := c.Open(); err != nil {
			return err
		}
	}

	elapsed := time.Since(c.start).Seconds()
	record := []string{
		c.RunID,
		c.Name,
		strconv.Itoa(epoch),
		fmt.Sprintf("%.6f", loss),
		fmt.Sprintf("%.2f", elapsed),
	}
	if err := c.writer.Write(record); err != nil {
		return errors.Wrap(err, "csv logger")
	}
	c.writer.Flush()
	return errors.Wrap(c.writer.Error(), "csv logger")
}

// Close flushes and closes the history file.
func (c *CSVLogger) Close() error {
	if c.file == nil {
		return nil
	}
	c.writer.Flush()
	err := c.file.Close()
	c.file = nil
	c.writer = nil
	return err
}
