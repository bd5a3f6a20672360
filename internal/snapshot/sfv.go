package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const (
	sfvComment        = ";"
	sfvCombinedPrefix = "; combined = "
)

var sfvHeader = []string{
	"; This is an SFV checksum file for all files of a snapshot.",
	"; Every line holds a file name and its CRC32C (Castagnoli) checksum.",
	"; This is an automatically created file - please do NOT modify.",
}

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32C of data.
func Checksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// ImmutableChecksumsSFV is a read only view of a checksum collection.
type ImmutableChecksumsSFV interface {
	// CombinedValue is a single checksum over all files.
	CombinedValue() uint32
	// Checksums returns a copy of the per file checksums.
	Checksums() map[string]uint32
	// SameChecksums reports whether other holds exactly the same files and checksums.
	SameChecksums(other ImmutableChecksumsSFV) bool
	Write(w io.Writer) error
}

// ChecksumsSFV maps file names to CRC32C checksums, in the format of simple
// file verification files.
type ChecksumsSFV struct {
	checksums map[string]uint32
	// combined overrides the computed combined value, set when read from a
	// file that carries one.
	combined *uint32
}

var _ ImmutableChecksumsSFV = (*ChecksumsSFV)(nil)

func NewChecksumsSFV() *ChecksumsSFV {
	return &ChecksumsSFV{checksums: make(map[string]uint32)}
}

// Update records the checksum of a file with the given content.
func (c *ChecksumsSFV) Update(name string, data []byte) {
	c.checksums[name] = Checksum(data)
	c.combined = nil
}

// UpdateFromReader records the checksum of everything read from r.
func (c *ChecksumsSFV) UpdateFromReader(name string, r io.Reader) error {
	h := crc32.New(crc32cTable)
	if _, err := io.Copy(h, r); err != nil {
		return fmt.Errorf("failed to checksum %s: %w", name, err)
	}
	c.checksums[name] = h.Sum32()
	c.combined = nil
	return nil
}

// UpdateFromFile records the checksum of the file at path under its base name.
func (c *ChecksumsSFV) UpdateFromFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.UpdateFromReader(filepath.Base(path), f)
}

// UpdateFromSFVFile reads lines of an SFV file. Comment lines are skipped
// except the one carrying the combined checksum.
func (c *ChecksumsSFV) UpdateFromSFVFile(lines ...string) error {
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, sfvCombinedPrefix) {
			v, err := strconv.ParseUint(strings.TrimPrefix(line, sfvCombinedPrefix), 16, 32)
			if err != nil {
				return fmt.Errorf("sfv line %d: invalid combined checksum: %w", i+1, err)
			}
			combined := uint32(v)
			c.combined = &combined
			continue
		}
		if strings.HasPrefix(line, sfvComment) {
			continue
		}

		sep := strings.LastIndexByte(line, ' ')
		if sep <= 0 {
			return fmt.Errorf("sfv line %d: expected <name> <checksum>, got %q", i+1, line)
		}
		v, err := strconv.ParseUint(line[sep+1:], 16, 32)
		if err != nil {
			return fmt.Errorf("sfv line %d: invalid checksum: %w", i+1, err)
		}
		c.checksums[strings.TrimSpace(line[:sep])] = uint32(v)
	}
	return nil
}

// CombinedValue is the CRC32C over name and big endian checksum of every file,
// in name order.
func (c *ChecksumsSFV) CombinedValue() uint32 {
	if c.combined != nil {
		return *c.combined
	}
	h := crc32.New(crc32cTable)
	var buf [4]byte
	for _, name := range c.names() {
		h.Write([]byte(name))
		binary.BigEndian.PutUint32(buf[:], c.checksums[name])
		h.Write(buf[:])
	}
	return h.Sum32()
}

func (c *ChecksumsSFV) Checksums() map[string]uint32 {
	return maps.Clone(c.checksums)
}

func (c *ChecksumsSFV) SameChecksums(other ImmutableChecksumsSFV) bool {
	return maps.Equal(c.checksums, other.Checksums())
}

func (c *ChecksumsSFV) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, line := range sfvHeader {
		fmt.Fprintln(bw, line)
	}
	fmt.Fprintf(bw, "%s%08x\n", sfvCombinedPrefix, c.CombinedValue())
	for _, name := range c.names() {
		fmt.Fprintf(bw, "%s %08x\n", name, c.checksums[name])
	}
	return bw.Flush()
}

func (c *ChecksumsSFV) names() []string {
	return slices.Sorted(maps.Keys(c.checksums))
}

// ReadSFV parses the checksum file at path.
func ReadSFV(path string) (*ChecksumsSFV, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sfv := NewChecksumsSFV()
	if err := sfv.UpdateFromSFVFile(strings.Split(string(data), "\n")...); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return sfv, nil
}

// ChecksumDir computes checksums of every regular file in dir.
func ChecksumDir(dir string) (*ChecksumsSFV, error) {
	files, err := listFiles(dir)
	if err != nil {
		return nil, err
	}
	sfv := NewChecksumsSFV()
	for _, name := range files {
		if err := sfv.UpdateFromFile(filepath.Join(dir, name)); err != nil {
			return nil, err
		}
	}
	return sfv, nil
}

// listFiles returns sorted names of the files in dir. Snapshots are flat,
// nested directories are rejected.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			return nil, fmt.Errorf("unexpected directory %s in snapshot %s", e.Name(), dir)
		}
		names = append(names, e.Name())
	}
	slices.Sort(names)
	return names, nil
}
