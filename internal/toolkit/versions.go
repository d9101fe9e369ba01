package toolkit

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/withObsrvr/vflp-ligand-prep/internal/engine"
	"github.com/withObsrvr/vflp-ligand-prep/internal/pipeline"
)

var versionPattern = regexp.MustCompile(`version ([0-9. ]*)`)

const versionTimeout = 60 * time.Second

// DiscoverVersions records the versions of the programs this job uses.
// Programs that are not used, or whose version cannot be read, stay
// pipeline.UnknownVersion.
func (t *Toolkit) DiscoverVersions(ctx context.Context, u Usage) {
	if u.CxCalc {
		if v, ok := t.banner(ctx, t.ng.Command(classCalculator)); ok {
			t.versions.CxCalc = parseMarvinVersion(v)
		}
	}
	if u.Molconvert {
		if v, ok := t.banner(ctx, t.ng.Command(classMolConverter)); ok {
			t.versions.Molconvert = parseMarvinVersion(v)
		}
	}
	if u.Standardizer {
		if v, ok := t.banner(ctx, t.ng.Command(classStandardizer, "-h")); ok {
			t.versions.Standardizer = parseStandardizerVersion(v)
		}
	}
	if v, ok := t.banner(ctx, engine.Command{Path: t.progs.Obabel, Args: []string{"-V"}}); ok {
		t.versions.Obabel = parseObabelVersion(v)
	}
	t.log.Info("program versions",
		"cxcalc", t.versions.CxCalc,
		"molconvert", t.versions.Molconvert,
		"standardizer", t.versions.Standardizer,
		"obabel", t.versions.Obabel)
}

// banner runs a version query. Usage screens often exit non-zero, so the
// output is kept in that case.
func (t *Toolkit) banner(ctx context.Context, cmd engine.Command) (string, bool) {
	cmd.Timeout = versionTimeout
	res, err := t.runner.Run(ctx, cmd)
	if err != nil && !errors.Is(err, engine.ErrExitCode) {
		t.log.Warn("version query failed", "command", cmd.String(), "error", err)
		return "", false
	}
	if res == nil {
		return "", false
	}
	return res.Stdout + "\n" + res.Stderr, true
}

func parseMarvinVersion(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if m := versionPattern.FindStringSubmatch(line); m != nil {
			if v := strings.TrimSpace(m[1]); v != "" {
				return v
			}
		}
	}
	return pipeline.UnknownVersion
}

func parseStandardizerVersion(out string) string {
	line, _, _ := strings.Cut(strings.TrimLeft(out, "\n"), "\n")
	fields := strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) < 2 {
		return pipeline.UnknownVersion
	}
	return fields[1]
}

func parseObabelVersion(out string) string {
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return pipeline.UnknownVersion
	}
	return fields[2]
}
