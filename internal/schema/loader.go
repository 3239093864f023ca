package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
)

// LoadDir loads a document schema from the CUE files in dir. Each file
// contributes entries under the top-level "table" struct:
//
//	table: Pets: {
//		columns: {
//			name:  {type: "Text"}
//			age:   {type: "Int"}
//			owner: {type: "Ref:Owners"}
//		}
//	}
//
// All table compile errors and document validation errors are
// collected; the returned Document is nil only when nothing could be
// loaded at all.
func LoadDir(dir string) (*Document, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{fmt.Errorf("schema directory not found: %s", dir)}
	}
	if err != nil {
		return nil, []error{fmt.Errorf("schema directory: %w", err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("not a directory: %s", dir)}
	}

	cueFiles, err := findCUEFiles(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("scanning %s: %w", dir, err)}
	}
	if len(cueFiles) == 0 {
		return nil, []error{fmt.Errorf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir, Package: "_"})
	if len(instances) == 0 {
		return nil, []error{fmt.Errorf("no CUE instances loaded from %s", dir)}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{fmt.Errorf("loading CUE files: %w", inst.Err)}
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{fmt.Errorf("building CUE value: %w", err)}
	}

	var errs []error
	doc := &Document{}
	tablesVal := value.LookupPath(cue.ParsePath("table"))
	if !tablesVal.Exists() {
		return nil, []error{fmt.Errorf("no table declarations found in %s", dir)}
	}
	iter, iterErr := tablesVal.Fields()
	if iterErr != nil {
		return nil, []error{fmt.Errorf("iterating tables: %w", iterErr)}
	}
	for iter.Next() {
		table, err := CompileTable(iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		doc.Tables = append(doc.Tables, *table)
	}

	errs = append(errs, doc.Validate()...)
	return doc, errs
}

func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
