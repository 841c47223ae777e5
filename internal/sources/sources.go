// Package sources implements the ranked-host CSV database: a directory
// of handle.csv files, each carrying a leading comment header with the
// handle's metadata, the rest of the file being "rank,host" rows sorted
// by rank.
package sources

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tlscanary/tlscanary/internal/types"
)

const headerPrefix = "#"

// DB lists and opens the handle.csv files under a sources directory.
type DB struct {
	dir string
}

func NewDB(dir string) *DB {
	return &DB{dir: dir}
}

// List returns the handles available in the sources directory, derived
// from each file's #handle: header line rather than its filename -- a
// handle may be renamed on disk without the filename following it.
func (db *DB) List() ([]string, error) {
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sources dir %s: %w", db.dir, err)
	}

	var handles []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		header, err := readHeader(filepath.Join(db.dir, entry.Name()))
		if err != nil {
			continue
		}
		if handle, ok := header["handle"]; ok {
			handles = append(handles, handle)
		}
	}
	sort.Strings(handles)
	return handles, nil
}

// Default returns the handle marked #default:handle:NAME in any file, or
// "" if none is marked.
func (db *DB) Default() (string, error) {
	entries, err := os.ReadDir(db.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read sources dir %s: %w", db.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		header, err := readHeader(filepath.Join(db.dir, entry.Name()))
		if err != nil {
			continue
		}
		if header["default:handle"] != "" {
			return header["default:handle"], nil
		}
	}
	return "", nil
}

// Read loads the Sources rows for handle, wherever the corresponding file
// is found by scanning #handle: headers.
func (db *DB) Read(handle string) (*Sources, error) {
	path, err := db.path(handle)
	if err != nil {
		return nil, err
	}
	return readFile(path, handle)
}

// Write persists rows under handle, creating or overwriting handle.csv.
func (db *DB) Write(handle string, rows []types.Host) error {
	if err := os.MkdirAll(db.dir, 0o755); err != nil {
		return fmt.Errorf("create sources dir: %w", err)
	}
	path := filepath.Join(db.dir, handle+".csv")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%shandle:%s\n", headerPrefix, handle); err != nil {
		return err
	}

	w := csv.NewWriter(f)
	for _, row := range rows {
		if err := w.Write([]string{strconv.Itoa(row.Rank), row.Name}); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func (db *DB) path(handle string) (string, error) {
	direct := filepath.Join(db.dir, handle+".csv")
	if header, err := readHeader(direct); err == nil && header["handle"] == handle {
		return direct, nil
	}

	entries, err := os.ReadDir(db.dir)
	if err != nil {
		return "", fmt.Errorf("read sources dir %s: %w", db.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".csv") {
			continue
		}
		path := filepath.Join(db.dir, entry.Name())
		header, err := readHeader(path)
		if err != nil {
			continue
		}
		if header["handle"] == handle {
			return path, nil
		}
	}
	return "", fmt.Errorf("sources: no handle %q in %s", handle, db.dir)
}

// Sources is the rank-sorted list of ranked hosts for one handle. Rows
// are not deduplicated.
type Sources struct {
	Handle string
	Rows   []types.Host
}

func readHeader(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	header := make(map[string]string)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, headerPrefix) {
			break
		}
		kv := strings.SplitN(strings.TrimPrefix(line, headerPrefix), ":", 2)
		if len(kv) != 2 {
			continue
		}
		key, value := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if key == "default" {
			// "#default:handle:NAME" names the handle and marks it default.
			rest := strings.SplitN(value, ":", 2)
			if len(rest) == 2 && strings.TrimSpace(rest[0]) == "handle" {
				name := strings.TrimSpace(rest[1])
				header["handle"] = name
				header["default:handle"] = name
			}
			continue
		}
		header[key] = value
	}
	return header, scanner.Err()
}

func readFile(path, handle string) (*Sources, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	for {
		peek, err := reader.Peek(1)
		if err != nil || string(peek) != headerPrefix {
			break
		}
		if _, err := reader.ReadString('\n'); err != nil {
			break
		}
	}

	cr := csv.NewReader(reader)
	cr.FieldsPerRecord = 2
	cr.ReuseRecord = true

	var rows []types.Host
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		rank, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, fmt.Errorf("parse rank in %s: %w", path, err)
		}
		rows = append(rows, types.Host{Rank: rank, Name: strings.TrimSpace(record[1])})
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Rank < rows[j].Rank })
	return &Sources{Handle: handle, Rows: rows}, nil
}

// AsSet returns the [start, end) slice of rows, clamped to the available
// range -- used to carve a run into chunks.
func (s *Sources) AsSet(start, end int) []types.Host {
	if start < 0 {
		start = 0
	}
	if end > len(s.Rows) {
		end = len(s.Rows)
	}
	if start >= end {
		return nil
	}
	out := make([]types.Host, end-start)
	copy(out, s.Rows[start:end])
	return out
}

// FromSet rebuilds a Sources from an unordered collection of hosts, sorted
// by rank, used by srcupdate to turn its filtered working set back into a
// handle's rows.
func FromSet(handle string, rows []types.Host) *Sources {
	out := make([]types.Host, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return &Sources{Handle: handle, Rows: out}
}

// Trim keeps only the first n rows by rank.
func (s *Sources) Trim(n int) {
	if n < len(s.Rows) {
		s.Rows = s.Rows[:n]
	}
}
