package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Header is the fixed column schema of the dataset file.
var Header = []string{"Link", "Date", "Source", "Title", "Description"}

// ErrMalformed is returned when the persisted dataset cannot be read back
// reliably. Callers must treat it as fatal: guessing a start date would lose
// or duplicate history.
var ErrMalformed = errors.New("malformed dataset")

const (
	separator = ';'
	dateIndex = 1
)

// Dataset is the append-only, semicolon-delimited file that holds every
// harvested record. It is the only state that survives between runs.
type Dataset struct {
	path string
}

// New returns a dataset backed by the file at path. The parent directory is
// created if it doesn't exist; the file itself is created by the first
// Append.
func New(path string) (*Dataset, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create dataset directory: %w", err)
		}
	}

	return &Dataset{path: path}, nil
}

// Path returns the location of the dataset file.
func (ds *Dataset) Path() string {
	return ds.path
}

// ResumeDate returns the first date that has not been collected yet: the
// maximum Date in the dataset plus one day. When the dataset is absent or
// holds no rows, defaultStart is returned.
func (ds *Dataset) ResumeDate(defaultStart time.Time) (time.Time, error) {
	var (
		latest time.Time
		found  bool
	)

	err := ds.scan(func(line int, row []string) error {
		d, err := ParseDate(row[dateIndex])
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}
		if !found || d.After(latest) {
			latest = d
			found = true
		}
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}

	if !found {
		return Day(defaultStart), nil
	}
	return NextDay(latest), nil
}

// Records reads every record in file order.
func (ds *Dataset) Records() ([]NewsRecord, error) {
	var records []NewsRecord

	err := ds.scan(func(line int, row []string) error {
		d, err := ParseDate(row[dateIndex])
		if err != nil {
			return fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}
		records = append(records, NewsRecord{
			Link:        row[0],
			Date:        d,
			Source:      row[2],
			Title:       row[3],
			Description: row[4],
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// scan validates the header and calls fn for every data row. A missing file
// is treated as an empty dataset.
func (ds *Dataset) scan(fn func(line int, row []string) error) error {
	f, err := os.Open(ds.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.Comma = separator
	r.FieldsPerRecord = len(Header)

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: failed to read header: %v", ErrMalformed, err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	if !slices.Equal(header, Header) {
		return fmt.Errorf("%w: unexpected header %q", ErrMalformed, strings.Join(header, string(separator)))
	}

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		line, _ := r.FieldPos(0)
		if err := fn(line, row); err != nil {
			return err
		}
	}
}

// Append adds records after the existing rows. The existing bytes are copied
// verbatim into a temporary file next to the dataset, the new rows are
// written after them, and the temporary file is renamed over the original, so
// a crash leaves either the old or the new file, never a truncated one.
func (ds *Dataset) Append(records []NewsRecord) error {
	existing, err := os.Open(ds.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to open dataset: %w", err)
	}

	var (
		size int64
		mode os.FileMode = 0o600
		last             = []byte{'\n'}
	)
	if existing != nil {
		defer existing.Close()

		info, err := existing.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat dataset: %w", err)
		}
		size = info.Size()
		mode = info.Mode().Perm()

		if size > 0 {
			if len(records) == 0 {
				return nil
			}
			if _, err := existing.ReadAt(last, size-1); err != nil {
				return fmt.Errorf("failed to read dataset: %w", err)
			}
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(ds.path), "."+filepath.Base(ds.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary dataset: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	w := bufio.NewWriter(tmp)
	if size > 0 {
		if _, err := io.Copy(w, io.NewSectionReader(existing, 0, size)); err != nil {
			return fmt.Errorf("failed to copy dataset: %w", err)
		}
		if last[0] != '\n' {
			if err := w.WriteByte('\n'); err != nil {
				return fmt.Errorf("failed to write dataset: %w", err)
			}
		}
	}

	cw := csv.NewWriter(w)
	cw.Comma = separator
	if size == 0 {
		if err := cw.Write(Header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}
	for _, record := range records {
		if err := cw.Write(record.row()); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush dataset: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		return fmt.Errorf("failed to set dataset permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close dataset: %w", err)
	}

	if err := os.Rename(tmpName, ds.path); err != nil {
		return fmt.Errorf("failed to replace dataset: %w", err)
	}
	committed = true

	return nil
}
