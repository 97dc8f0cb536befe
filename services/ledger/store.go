package ledger

import (
	"bufio"
	"bytes"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"sjsage522/cardledger/internal/crawler"
	"sjsage522/cardledger/logger"
	"sjsage522/cardledger/pkg/errors"
)

// Header is the column contract of the ledger file
var Header = []string{"Order ID", "Date", "User", "Status", "Total", "Type"}

// DateLayout is how parsed dates are written back
const DateLayout = "02.01.06"

// Store persists the ledger as a CSV file
type Store struct {
	path      string
	malformed bool
	log       *logger.Logger

	// syncFile flushes the temporary file to disk before it replaces the ledger
	syncFile func(*os.File) error
	// syncDir flushes the directory entry written by the rename
	syncDir func(dir string) error
}

// NewStore creates a store for the CSV file at path
func NewStore(path string) *Store {
	return &Store{
		path:     path,
		log:      logger.ForComponent("ledger"),
		syncFile: (*os.File).Sync,
		syncDir:  syncDir,
	}
}

// Path returns the ledger file path
func (s *Store) Path() string {
	return s.path
}

// Load reads the ledger. A missing or unreadable file yields an empty ledger.
func (s *Store) Load() *Ledger {
	s.malformed = false

	f, err := os.Open(s.path)
	if stderrors.Is(err, fs.ErrNotExist) {
		s.log.Info().Str("path", s.path).Msg("No ledger yet, starting empty")
		return New()
	}
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("Ledger unreadable, starting empty")
		s.malformed = true
		return New()
	}
	defer f.Close()

	l, err := readLedger(f)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("Ledger malformed, starting empty")
		s.malformed = true
		return New()
	}

	s.log.Info().Str("path", s.path).Int("records", l.Len()).Msg("Ledger loaded")
	return l
}

// utf8BOM is prepended by spreadsheets saving as UTF-8
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func readLedger(r io.Reader) (*Ledger, error) {
	br := bufio.NewReader(r)
	if prefix, _ := br.Peek(len(utf8BOM)); bytes.Equal(prefix, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return New(), nil
	}
	if err != nil {
		return nil, err
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	if _, ok := columns[Header[0]]; !ok {
		return nil, fmt.Errorf("missing %q column", Header[0])
	}

	field := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	l := New()
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		record := crawler.OrderRecord{
			ID:           field(row, "Order ID"),
			RawDate:      field(row, "Date"),
			Counterparty: field(row, "User"),
			Status:       field(row, "Status"),
			Total:        field(row, "Total"),
			Section:      crawler.Section(field(row, "Type")),
		}
		if date, err := crawler.ParseOrderDate(record.RawDate); err == nil {
			record.Date = date
		}
		l.Append(record)
	}
	return l, nil
}

// Save replaces the ledger file with records. The file is written to a
// temporary sibling and renamed over the old one, so an interrupted save
// leaves the previous ledger in place.
func (s *Store) Save(records []crawler.OrderRecord) (err error) {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.NewStorage("ledger", "failed to create ledger directory", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.NewStorage("ledger", "failed to create temporary file", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err := writeLedger(tmp, records); err != nil {
		return errors.NewStorage("ledger", "failed to write records", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return errors.NewStorage("ledger", "failed to set permissions", err)
	}
	if err := s.syncFile(tmp); err != nil {
		return errors.NewStorage("ledger", "failed to sync temporary file", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewStorage("ledger", "failed to close temporary file", err)
	}

	if s.malformed {
		backup := fmt.Sprintf("%s.corrupt-%s", s.path, time.Now().Format("20060102150405"))
		if err := os.Rename(s.path, backup); err == nil {
			s.log.Warn().Str("backup", backup).Msg("Kept the malformed ledger aside")
		}
		s.malformed = false
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return errors.NewStorage("ledger", "failed to replace ledger", err)
	}
	if err := s.syncDir(dir); err != nil {
		return errors.NewStorage("ledger", "failed to sync ledger directory", err)
	}

	s.log.Info().Str("path", s.path).Int("records", len(records)).Msg("Ledger saved")
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func writeLedger(w io.Writer, records []crawler.OrderRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		date := r.RawDate
		if r.HasDate() {
			date = r.Date.Format(DateLayout)
		}
		if err := writer.Write([]string{r.ID, date, r.Counterparty, r.Status, r.Total, string(r.Section)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
