package report

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/juju/errors"
	"sigs.k8s.io/yaml"

	"mdsearch/pkg/population"
)

// WritePerturbationCSV writes, per type, every raw value next to the offset
// added to it. Unperturbed dimensions get a zero offset.
func WritePerturbationCSV(w io.Writer, pop *population.Population) error {
	cw := csv.NewWriter(w)
	header := []string{"type"}
	for _, d := range population.Dimensions {
		header = append(header, string(d), string(d)+"_offset")
	}
	if err := cw.Write(header); err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < pop.NumType(); i++ {
		rec := []string{strconv.Itoa(i)}
		for _, d := range population.Dimensions {
			offset := 0.0
			if off := pop.Perturbation(d); off != nil {
				offset = off[i]
			}
			rec = append(rec,
				strconv.FormatFloat(pop.Values(d)[i], 'g', -1, 64),
				strconv.FormatFloat(offset, 'g', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return errors.Trace(err)
		}
	}
	cw.Flush()
	return errors.Trace(cw.Error())
}

// WritePerturbationFile writes the perturbation CSV to path.
func WritePerturbationFile(path string, pop *population.Population) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Annotatef(err, "creating %s", path)
	}
	if err := WritePerturbationCSV(f, pop); err != nil {
		f.Close()
		return errors.Annotatef(err, "writing %s", path)
	}
	return errors.Trace(f.Close())
}

// WriteYAML marshals v (through its json tags) to a YAML file.
func WriteYAML(path string, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return errors.Annotatef(err, "marshaling %T", v)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Annotatef(err, "writing %s", path)
	}
	return nil
}

// ReadYAML is the inverse of WriteYAML.
func ReadYAML(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Annotatef(err, "reading %s", path)
	}
	return errors.Annotatef(yaml.Unmarshal(data, v), "decoding %s", path)
}
