package pipeline

import "path/filepath"

// Layout locates the working files of one collection.
type Layout struct {
	// Root is the collection working directory; completed outputs and kept
	// intermediate logs live below it.
	Root string
	// Temp is the parent of per-ligand scratch directories.
	Temp string

	Metatranche string
	Tranche     string
	Collection  string
}

// CollectionKey is "<metatranche>_<tranche>_<collection>".
func (l Layout) CollectionKey() string {
	return l.Metatranche + "_" + l.Tranche + "_" + l.Collection
}

// CompleteDir is the directory of finished files of one format.
func (l Layout) CompleteDir(format string) string {
	return filepath.Join(l.Root, "complete", format, l.Metatranche, l.Tranche, l.Collection)
}

// StatusFile is the local path of the collection summary.
func (l Layout) StatusFile() string {
	return filepath.Join(l.Root, "complete", "status", l.Metatranche, l.Tranche, l.Collection+".json.gz")
}

// IntermediateDir is the root of kept engine logs of the collection.
func (l Layout) IntermediateDir() string {
	return intermediateDir(l.Root, l)
}

func intermediateDir(base string, l Layout) string {
	return filepath.Join(base, "intermediate", l.Metatranche, l.Tranche, l.Collection)
}

// OutputFile is the finished file of one tautomer.
func (l Layout) OutputFile(format, trancheString, key string) string {
	return filepath.Join(l.CompleteDir(format), trancheString+"_"+key+"."+format)
}
