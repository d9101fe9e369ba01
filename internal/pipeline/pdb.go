package pipeline

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrNoStructureFile = errors.New("no structure file generated")
	ErrEmptyFile       = errors.New("output file is empty")
	ErrFlatCoordinates = errors.New("output file exists but does not contain valid coordinates")
)

var (
	atomRecord     = regexp.MustCompile(`^(ATOM|HETATM)`)
	droppedRecord  = regexp.MustCompile(`TITLE|SOURCE|KEYWDS|EXPDTA|REVDAT|COMPND|HEADER|AUTHOR`)
	unknownResidue = regexp.MustCompile(` UN[LK] `)
	zeroCharge     = regexp.MustCompile(`\+0`)
	chargeSuffix   = regexp.MustCompile(`([+-])([0-9])$`)
	zeroOrSign     = regexp.MustCompile(`[0.+\-]`)
)

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoStructureFile, filepath.Base(path))
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// hasNonZeroCoordinates reports whether at least one atom record carries a
// coordinate other than zero.
func hasNonZeroCoordinates(lines []string) bool {
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !atomRecord.MatchString(line) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			continue
		}
		coords := zeroOrSign.ReplaceAllString(strings.Join(fields[5:8], ""), "")
		if coords != "" {
			return true
		}
	}
	return false
}

// checkStructure loads a generated structure file and verifies it is present,
// non-empty and, when coordinates apply, not flat.
func checkStructure(path string, coordinates bool) ([]string, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, ErrEmptyFile
	}
	if coordinates && !hasNonZeroCoordinates(lines) {
		return nil, ErrFlatCoordinates
	}
	return lines, nil
}

// cleanPDBLine normalises one line of engine PDB output. It returns false
// for lines that are dropped.
func cleanPDBLine(line string) (string, bool) {
	if droppedRecord.MatchString(line) {
		return "", false
	}
	line = strings.ReplaceAll(line, "NONE", "")
	line = unknownResidue.ReplaceAllString(line, " LIG ")
	line = zeroCharge.ReplaceAllString(line, "")
	line = chargeSuffix.ReplaceAllString(line, "${2}${1}")
	if strings.TrimSpace(line) == "" {
		return "", false
	}
	return line, true
}

// writePDB writes the remark header, the compound line and the cleaned body.
func writePDB(path, key, remarks string, body []string) error {
	var b strings.Builder
	if remarks != "" {
		b.WriteString(remarks)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "COMPND    Compound: %s\n", key)
	for _, line := range body {
		if clean, ok := cleanPDBLine(line); ok {
			b.WriteString(clean)
			b.WriteByte('\n')
		}
	}
	return writeFile(path, b.String())
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

// remarkPrefix returns the remark line prefix of a target format, or false
// when the format carries no remarks.
func remarkPrefix(format string) (string, bool) {
	switch format {
	case "pdb", "pdbqt":
		return "REMARK    ", true
	case "mol2":
		return "# ", true
	}
	return "", false
}

// formatOutput builds the final content of a converted file.
func formatOutput(format, remarks string, lines []string, sourcePath string) string {
	if format == "smi" {
		fields := strings.Fields(lines[0])
		if len(fields) == 0 {
			return "\n"
		}
		return fields[0] + "\n"
	}

	var b strings.Builder
	if remarks != "" {
		b.WriteString(remarks)
		b.WriteByte('\n')
	}
	base := filepath.Base(sourcePath)
	coords := format == "pdb" || format == "pdbqt"
	for _, line := range lines {
		if coords {
			if droppedRecord.MatchString(line) {
				continue
			}
			line = unknownResidue.ReplaceAllString(line, " LIG ")
			if strings.TrimSpace(line) == "" {
				continue
			}
		}
		b.WriteString(strings.ReplaceAll(line, sourcePath, base))
		b.WriteByte('\n')
	}
	return b.String()
}
