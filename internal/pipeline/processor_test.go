package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/withObsrvr/vflp-ligand-prep/internal/attributes"
	"github.com/withObsrvr/vflp-ligand-prep/internal/config"
)

const testPDB = `HEADER    generated
COMPND    UNNAMED
HETATM    1  C   UNL     1       1.000   0.000   0.000  1.00  0.00           C
HETATM    2  O   UNL     1       0.000   1.200   0.000  1.00  0.00           O-1
END
`

const flatPDB = `HETATM    1  C   UNL     1       0.000   0.000   0.000  1.00  0.00           C
`

type massBackend struct{ value string }

func (b massBackend) Compute(_ context.Context, _ attributes.Molecule, names []string, timer attributes.Timer) map[string]attributes.Result {
	timer("cxcalc_attributes", 0)
	out := map[string]attributes.Result{}
	for _, n := range names {
		if n == "mass" {
			out[n] = attributes.OK(b.value)
		} else {
			out[n] = attributes.Unsupported()
		}
	}
	return out
}

type fakeToolkit struct {
	mu    sync.Mutex
	calls []string

	failNeutralize   bool
	failStereo       bool
	failProtonate    map[string]bool // engine -> fail
	failConformation map[string]bool // tautomer smi -> fail
	flatConformation bool
	energy           float64
	mass             string
}

func (f *fakeToolkit) call(format string, args ...any) {
	f.mu.Lock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *fakeToolkit) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeToolkit) Neutralize(_ context.Context, engine, smi string, _ Scratch) (string, error) {
	f.call("neutralize %s", engine)
	if f.failNeutralize {
		return "", errors.New("standardizer crashed")
	}
	return smi, nil
}

func (f *fakeToolkit) Stereoisomers(_ context.Context, engine, smi string, _ Scratch) ([]string, error) {
	f.call("stereoisomers %s", engine)
	if f.failStereo {
		return nil, errors.New("no output for stereoisomer state generation")
	}
	return []string{smi, "C" + smi + " extra"}, nil
}

func (f *fakeToolkit) Tautomers(_ context.Context, engine, smi string, _ Scratch) ([]string, error) {
	f.call("tautomers %s", engine)
	return []string{smi, smi + "N"}, nil
}

func (f *fakeToolkit) Protonate(_ context.Context, engine, smi string, _ Scratch) (string, error) {
	f.call("protonate %s", engine)
	if f.failProtonate[engine] {
		return "", errors.New("engine timed out")
	}
	return smi, nil
}

func (f *fakeToolkit) Conformation(_ context.Context, engine, smi, out string, _ Scratch) error {
	f.call("conformation %s %s", engine, smi)
	if f.failConformation[smi] {
		return errors.New("conformation failed")
	}
	if f.flatConformation {
		return os.WriteFile(out, []byte(flatPDB), 0644)
	}
	return os.WriteFile(out, []byte(testPDB), 0644)
}

func (f *fakeToolkit) GeneratePDB(_ context.Context, smi, out string, _ Scratch) error {
	f.call("generate %s", smi)
	return os.WriteFile(out, []byte(testPDB), 0644)
}

func (f *fakeToolkit) Energy(_ context.Context, pdb string, _ Scratch) (float64, []string, error) {
	f.call("energy")
	return f.energy, []string{fmt.Sprintf("TOTAL ENERGY = %.3f kJ/mol", f.energy)}, nil
}

func (f *fakeToolkit) Convert(_ context.Context, pdb, format, out string, _ Scratch) error {
	f.call("convert %s", format)
	if format == "smi" {
		return os.WriteFile(out, []byte("CCCCO\t"+pdb+"\n"), 0644)
	}
	data, err := os.ReadFile(pdb)
	if err != nil {
		return err
	}
	return os.WriteFile(out, data, 0644)
}

func (f *fakeToolkit) AttributeBackends() map[string]attributes.Backend {
	mass := f.mass
	if mass == "" {
		mass = "300"
	}
	return map[string]attributes.Backend{attributes.EngineCxCalc: massBackend{value: mass}}
}

func (f *fakeToolkit) Versions() Versions {
	return Versions{CxCalc: "22.1", Molconvert: "22.1", Standardizer: "22.1", Obabel: "3.1.1"}
}

func testJob() *config.Job {
	return &config.Job{
		Desalting:                  true,
		Neutralization:             true,
		NeutralizationMode:         config.NeutralizeAlways,
		NeutralizationProgram1:     "standardizer",
		StereoisomerGeneration:     true,
		Tautomerization:            true,
		ProtonationStateGeneration: true,
		ProtonationProgram1:        "cxcalc",
		ProtonationProgram2:        "obabel",
		ProtonationPHValue:         7.4,
		TrancheAssignments:         true,
		TrancheTypes:               []string{"mw_jchem", "halogencount"},
		TranchePartitions: map[string][]string{
			"mw_jchem":     {"200", "400"},
			"halogencount": {"0", "1"},
		},
		ConformationGeneration: true,
		ConformationProgram1:   "molconvert",
		ConformationProgram2:   "obabel",
		EnergyCheck:            true,
		EnergyMax:              100,
		TargetFormats:          []string{"pdbqt", "smi"},
	}
}

func testLayout(t *testing.T) Layout {
	return Layout{Root: t.TempDir(), Temp: t.TempDir(), Metatranche: "AA", Tranche: "AAAA", Collection: "coll1"}
}

func newTestProcessor(t *testing.T, job *config.Job, tk *fakeToolkit) *Processor {
	t.Helper()
	p, err := NewProcessor(job, tk, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func stages(entries []StatusEntry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.Stage+":"+e.State)
	}
	return out
}

func timerNames(timers []Timer) []string {
	var out []string
	for _, t := range timers {
		out = append(out, t.Name)
	}
	return out
}

func findTautomer(lig *Ligand, key string) *Tautomer {
	for _, t := range lig.Tautomers {
		if t.Key == key {
			return t
		}
	}
	return nil
}

func TestProcessLigandFullTree(t *testing.T) {
	tk := &fakeToolkit{energy: 50}
	p := newTestProcessor(t, testJob(), tk)
	layout := testLayout(t)

	lig := p.ProcessLigand(context.Background(), layout, Input{Key: "L1", SMI: "CCCCO.[Na+] ZINC01"})

	if lig.Status != StatusSuccess {
		t.Fatalf("ligand status = %s, trail %v", lig.Status, stages(lig.StatusSub))
	}
	if lig.SMIDesalted != "CCCCO" || lig.Fragments != 2 {
		t.Errorf("desalted = %q fragments = %d", lig.SMIDesalted, lig.Fragments)
	}
	wantLigand := []string{"desalt:success", "neutralization:success", "stereoisomer:success"}
	if strings.Join(stages(lig.StatusSub), ",") != strings.Join(wantLigand, ",") {
		t.Errorf("ligand status_sub = %v", stages(lig.StatusSub))
	}

	var keys []string
	for _, tt := range lig.Tautomers {
		keys = append(keys, tt.Key)
	}
	wantKeys := []string{"L1_S0_T0", "L1_S0_T1", "L1_S1_T0", "L1_S1_T1"}
	if strings.Join(keys, ",") != strings.Join(wantKeys, ",") {
		t.Fatalf("tautomer keys = %v", keys)
	}
	if lig.Stereoisomers[1].SMI != "CCCCCO" {
		t.Errorf("stereoisomer smi should keep the first token: %q", lig.Stereoisomers[1].SMI)
	}

	taut := lig.Tautomers[0]
	if taut.Status != StatusSuccess {
		t.Fatalf("tautomer status = %s, trail %v", taut.Status, stages(taut.StatusSub))
	}
	if taut.TrancheString != "BA" {
		t.Errorf("tranche = %s, want BA", taut.TrancheString)
	}
	wantTimers := []string{"cxcalc_protonate", "cxcalc_attributes", "tranche-assignment",
		"molconvert_conformation", "conformation", "obenergy",
		"obabel_generate_pdbqt", "obabel_generate_smi", "targetformats"}
	if strings.Join(timerNames(taut.Timers), ",") != strings.Join(wantTimers, ",") {
		t.Errorf("tautomer timers = %v", timerNames(taut.Timers))
	}

	pdbqt, err := os.ReadFile(layout.OutputFile("pdbqt", "BA", "L1_S0_T0"))
	if err != nil {
		t.Fatalf("pdbqt output: %v", err)
	}
	content := string(pdbqt)
	for _, want := range []string{"REMARK    Small molecule (ligand)", "REMARK    Compound: L1_S0_T0",
		"REMARK     * mw_jchem: 300", "REMARK    Tranche: BA", "Original Collection: AA_AAAA_coll1", " LIG "} {
		if !strings.Contains(content, want) {
			t.Errorf("pdbqt missing %q:\n%s", want, content)
		}
	}
	if strings.Contains(content, "UNL") || strings.Contains(content, "HEADER") {
		t.Errorf("pdbqt should be cleaned:\n%s", content)
	}

	smi, err := os.ReadFile(layout.OutputFile("smi", "BA", "L1_S0_T0"))
	if err != nil {
		t.Fatalf("smi output: %v", err)
	}
	if string(smi) != "CCCCO\n" {
		t.Errorf("smi output = %q", smi)
	}
}

func TestSiblingIsolation(t *testing.T) {
	job := testJob()
	job.StereoisomerGeneration = false
	job.ConformationObligatory = true
	job.ConformationProgram2 = ""
	tk := &fakeToolkit{energy: 1, failConformation: map[string]bool{"CCON": true}}
	p := newTestProcessor(t, job, tk)

	lig := p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L2", SMI: "CCO"})

	bad := findTautomer(lig, "L2_S0_T1")
	good := findTautomer(lig, "L2_S0_T0")
	if bad == nil || good == nil {
		t.Fatalf("tautomers = %v", lig.Tautomers)
	}
	if bad.Status != StatusFailed {
		t.Errorf("failing tautomer status = %s", bad.Status)
	}
	if good.Status != StatusSuccess {
		t.Errorf("sibling status = %s, trail %v", good.Status, stages(good.StatusSub))
	}
	for _, e := range good.StatusSub {
		if e.State == StatusFailed {
			t.Errorf("sibling trail contains a failure: %v", stages(good.StatusSub))
		}
	}
	if good.Remarks.Get(RemarkConformation) == "" || bad.Remarks.Get(RemarkConformation) != "" {
		t.Error("remarks leaked between siblings")
	}
	if lig.Stereoisomers[0].Status != StatusSuccess || lig.Status != StatusSuccess {
		t.Error("a tautomer failure must not fail its parents")
	}
	if tk.count("generate") != 0 {
		t.Error("obligatory conformation failure must not fall back to plain generation")
	}
}

func TestOptionalConformationFallsBackToGeneration(t *testing.T) {
	job := testJob()
	job.StereoisomerGeneration = false
	job.Tautomerization = false
	job.ConformationProgram2 = ""
	tk := &fakeToolkit{energy: 1, flatConformation: true}
	p := newTestProcessor(t, job, tk)

	lig := p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L3", SMI: "CCO"})
	taut := lig.Tautomers[0]
	if taut.Status != StatusSuccess {
		t.Fatalf("status = %s, trail %v", taut.Status, stages(taut.StatusSub))
	}
	if tk.count("generate") != 1 {
		t.Errorf("generate calls = %d", tk.count("generate"))
	}
	if taut.Remarks.Get(RemarkGeneration) == "" {
		t.Error("generation remark missing")
	}
}

func TestStableKeysAndTrail(t *testing.T) {
	run := func() (string, string) {
		tk := &fakeToolkit{energy: 1}
		p := newTestProcessor(t, testJob(), tk)
		lig := p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L4", SMI: "CC(=O)O"})
		var keys, trail []string
		for _, tt := range lig.Tautomers {
			keys = append(keys, tt.Key)
			trail = append(trail, stages(tt.StatusSub)...)
			trail = append(trail, timerNames(tt.Timers)...)
		}
		return strings.Join(keys, ","), strings.Join(trail, ",")
	}
	k1, t1 := run()
	k2, t2 := run()
	if k1 != k2 || t1 != t2 {
		t.Errorf("runs differ:\n%s\n%s\n%s\n%s", k1, k2, t1, t2)
	}
}

func TestEmptyStructureFailsLigand(t *testing.T) {
	tk := &fakeToolkit{}
	p := newTestProcessor(t, testJob(), tk)
	lig := p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L5", SMI: "  "})
	if lig.Status != StatusFailed {
		t.Errorf("status = %s", lig.Status)
	}
	if len(lig.StatusSub) != 1 || lig.StatusSub[0].Stage != "desalt" || lig.StatusSub[0].State != StatusFailed {
		t.Errorf("trail = %v", stages(lig.StatusSub))
	}
	if len(tk.calls) != 0 {
		t.Errorf("no engine should run, got %v", tk.calls)
	}
}

func TestStereoisomerFailure(t *testing.T) {
	job := testJob()
	tk := &fakeToolkit{energy: 1, failStereo: true}
	p := newTestProcessor(t, job, tk)
	lig := p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L6", SMI: "CCO"})
	if len(lig.Stereoisomers) != 1 || lig.Stereoisomers[0].SMI != "CCO" {
		t.Errorf("optional failure should keep one identical stereoisomer: %+v", lig.Stereoisomers)
	}

	job.StereoisomerObligatory = true
	p = newTestProcessor(t, job, tk)
	lig = p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L6", SMI: "CCO"})
	if lig.Status != StatusFailed || len(lig.Stereoisomers) != 0 {
		t.Errorf("obligatory failure: status %s, %d stereoisomers", lig.Status, len(lig.Stereoisomers))
	}
	last := lig.StatusSub[len(lig.StatusSub)-1]
	if last.Stage != "stereoisomer" || !strings.HasPrefix(last.Text, "Failed no stereoisomer program remaining") {
		t.Errorf("last entry = %+v", last)
	}
}

func TestNeutralizationModes(t *testing.T) {
	job := testJob()
	job.NeutralizationMode = config.NeutralizeOnlyGenuineDesalting
	job.StereoisomerGeneration = false
	job.Tautomerization = false
	tk := &fakeToolkit{energy: 1}
	p := newTestProcessor(t, job, tk)

	lig := p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L7", SMI: "CCO"})
	if tk.count("neutralize") != 0 {
		t.Error("single fragment should not be neutralized")
	}
	if lig.StatusSub[1].Text != "untouched" {
		t.Errorf("neutralization entry = %+v", lig.StatusSub[1])
	}

	job.NeutralizationMode = config.NeutralizeOnlyGenuineDesaltingCharge
	p = newTestProcessor(t, job, tk)
	p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L8", SMI: "CCCC[NH3+].[Cl-]"})
	if tk.count("neutralize") != 1 {
		t.Errorf("charged salt should be neutralized, calls %v", tk.calls)
	}

	job.Neutralization = false
	p = newTestProcessor(t, job, tk)
	lig = p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L10", SMI: "CCCC[NH3+].[Cl-]"})
	if tk.count("neutralize") != 1 {
		t.Errorf("disabled neutralization still called the engine, calls %v", tk.calls)
	}
	if lig.SMINeutralized != lig.SMIDesalted {
		t.Errorf("neutralized = %q, want %q", lig.SMINeutralized, lig.SMIDesalted)
	}
	for _, e := range lig.StatusSub {
		if e.Stage == stageNeutralization {
			t.Errorf("disabled neutralization recorded %+v", e)
		}
	}
}

func TestOptionalNeutralizationFailure(t *testing.T) {
	job := testJob()
	job.StereoisomerGeneration = false
	job.Tautomerization = false
	tk := &fakeToolkit{energy: 1, failNeutralize: true}
	p := newTestProcessor(t, job, tk)

	lig := p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L9", SMI: "CCO"})
	if lig.SMINeutralized != "CCO" || lig.Status != StatusSuccess {
		t.Errorf("neutralized = %q status %s", lig.SMINeutralized, lig.Status)
	}
	if lig.StatusSub[1].State != StatusFailed {
		t.Errorf("neutralization entry = %+v", lig.StatusSub[1])
	}
}

func TestProtonationFallback(t *testing.T) {
	job := testJob()
	job.StereoisomerGeneration = false
	job.Tautomerization = false
	tk := &fakeToolkit{energy: 1, failProtonate: map[string]bool{"cxcalc": true}}
	p := newTestProcessor(t, job, tk)

	lig := p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L10", SMI: "CCO"})
	taut := lig.Tautomers[0]
	names := timerNames(taut.Timers)
	if names[0] != "cxcalc_protonate" || names[1] != "obabel_protonate" {
		t.Errorf("timers = %v", names)
	}
	if !strings.Contains(taut.Remarks.Get(RemarkProtonation), "Open Babel") {
		t.Errorf("protonation remark = %q", taut.Remarks.Get(RemarkProtonation))
	}
}

func TestTrancheFailureIsObligatoryByDefault(t *testing.T) {
	job := testJob()
	job.StereoisomerGeneration = false
	job.Tautomerization = false
	tk := &fakeToolkit{energy: 1, mass: "n/a"}
	p := newTestProcessor(t, job, tk)

	lig := p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L11", SMI: "CCO"})
	taut := lig.Tautomers[0]
	if taut.Status != StatusFailed {
		t.Errorf("status = %s", taut.Status)
	}
	last := taut.StatusSub[len(taut.StatusSub)-1]
	if last.Stage != "tranche-assignment" || last.State != StatusFailed {
		t.Errorf("last entry = %+v", last)
	}
	if tk.count("conformation") != 0 {
		t.Error("later stages should not run")
	}
}

func TestEnergyCheckRejects(t *testing.T) {
	job := testJob()
	job.StereoisomerGeneration = false
	job.Tautomerization = false
	tk := &fakeToolkit{energy: 5000}
	p := newTestProcessor(t, job, tk)

	lig := p.ProcessLigand(context.Background(), testLayout(t), Input{Key: "L12", SMI: "CCO"})
	taut := lig.Tautomers[0]
	if taut.Status != StatusFailed {
		t.Errorf("status = %s", taut.Status)
	}
	if tk.count("convert") != 0 {
		t.Error("no output should be written after a failed energy check")
	}
}

func TestUnknownDescriptorIsConfigError(t *testing.T) {
	job := testJob()
	job.AttributesToGenerate = []string{"not_a_descriptor"}
	_, err := NewProcessor(job, &fakeToolkit{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("err = %v", err)
	}
}

func TestTrailJSON(t *testing.T) {
	tr := Trail{Status: StatusFailed}
	tr.succeed("desalt", "untouched")
	tr.record("desalt", 0.5)
	data, err := json.Marshal(tr)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"status":"failed","status_sub":[["desalt",{"state":"success","text":"untouched"}]],"timers":[["desalt",0.5]]}`
	if string(data) != want {
		t.Errorf("json = %s", data)
	}
	var back Trail
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.StatusSub[0] != tr.StatusSub[0] || back.Timers[0] != tr.Timers[0] {
		t.Errorf("round trip = %+v", back)
	}
}
